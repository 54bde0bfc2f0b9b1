package bus

import (
	"fmt"
	"strings"
)

// Queue naming scheme. Keys double as the logical addresses from the wire
// protocol, so any sender and any worker derive the same name without a
// central directory.

// ActionQueue returns the per-tenant work queue for a domain.
func ActionQueue(domain, tenantID string) string {
	return fmt.Sprintf("%s.%s.actions", domain, tenantID)
}

// ActionQueueFor returns the tenant work queue an envelope belongs on.
func ActionQueueFor(e *Envelope) (string, error) {
	domain := e.Domain()
	if domain == "" {
		return "", fmt.Errorf("cannot derive queue: action_type %q has no domain", e.ActionType)
	}
	if strings.TrimSpace(e.TenantID) == "" {
		return "", fmt.Errorf("cannot derive queue: tenant_id required")
	}
	return ActionQueue(domain, e.TenantID), nil
}

// CallbackQueue returns a service-owned inbound queue for async replies.
func CallbackQueue(service, instance string) string {
	if instance == "" {
		instance = "main"
	}
	return fmt.Sprintf("%s.%s.callbacks", service, instance)
}

// ReplySlot returns the ephemeral reply key for a correlation id. Only the
// single waiting caller derives it, so it is not tenant-scoped.
func ReplySlot(correlationID string) string {
	return "reply." + correlationID
}

// QueuePattern returns the glob a worker subscribes with to serve every
// tenant of a domain (e.g. "orchestrator.*.actions").
func QueuePattern(domain string) string {
	return domain + ".*.actions"
}

// IsActionQueue reports whether a scanned key looks like a tenant work queue.
// Guards pattern resolution against unrelated keys sharing a prefix.
func IsActionQueue(key string) bool {
	parts := strings.Split(key, ".")
	return len(parts) == 3 && parts[0] != "" && parts[1] != "" && parts[2] == "actions"
}
