package auth

// Scopes accepted by the record and share endpoints.
const (
	ScopeRecordsRead  = "records:read"
	ScopeRecordsWrite = "records:write"
	ScopeSharesManage = "shares:manage"
)
