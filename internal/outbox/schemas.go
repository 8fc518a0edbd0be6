package outbox

const recordUpsertedSchema = `{
  "type": "object",
  "title": "RecordUpserted",
  "properties": {
    "record_id": {"type": "string"},
    "family_id": {"type": "string"},
    "zone_id": {"type": "string"},
    "category": {"type": "string", "enum": ["sleep", "diaper", "feeding"]},
    "start_at": {"type": "string", "format": "date-time"},
    "end_at": {"type": "string", "format": "date-time"},
    "diaper_type": {"type": "string"},
    "feeding_type": {"type": "string"},
    "bottle_volume_ml": {"type": "integer"},
    "version": {"type": "string"},
    "updated_at": {"type": "string", "format": "date-time"}
  },
  "required": ["record_id", "family_id", "zone_id", "category", "start_at", "version", "updated_at"],
  "additionalProperties": false
}`

const recordDeletedSchema = `{
  "type": "object",
  "title": "RecordDeleted",
  "properties": {
    "record_id": {"type": "string"},
    "family_id": {"type": "string"},
    "zone_id": {"type": "string"},
    "deleted_at": {"type": "string", "format": "date-time"}
  },
  "required": ["record_id", "family_id", "zone_id", "deleted_at"],
  "additionalProperties": false
}`
