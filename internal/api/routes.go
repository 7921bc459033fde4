package api

const (
	HealthCheckRoute = "/healthz"
	AboutRoute       = "/v1/about"

	IssueCodeRoute   = "/v1/qr"
	WaitForCredRoute = "/v1/qr/wait"
	ClaimTokenRoute  = "/v1/qr/claim"
	CancelTokenRoute = "/v1/qr/cancel"

	AuditParent     = "/v1/audit/"
	ListAuditsRoute = AuditParent + "entries"

	TaskParent       = "/v1/tasks/"
	ListTasksRoute   = TaskParent
	TriggerTaskRoute = TaskParent + "{name}/trigger"
	LogsForTaskRoute = TaskParent + "{name}/logs"
)
