package cel

// FilterExpressionExamples are served by the management API as authoring hints.
var FilterExpressionExamples = map[string]string{
	"simple_equals":       `payload.status == "active"`,
	"numeric_greater":     `payload.amount > 100.0`,
	"string_contains":     `subscriber.email.endsWith("@example.com")`,
	"in_list":             `subscriber.locale in ["en", "de"]`,
	"nested_field":        `payload.order.tier == "premium"`,
	"tenant":              `has(tenant.plan) && tenant.plan != "free"`,
	"previous_step":       `has(steps.email) && !steps.email.read`,
	"recently_online":     `has(subscriber.lastOnlineAt) && now - subscriber.lastOnlineAt < duration("1h")`,
	"workflow":            `workflow_id == "order-shipped"`,
	"combined_conditions": `(payload.status == "active" || payload.status == "pending") && payload.amount > 50.0`,
}
