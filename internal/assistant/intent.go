package assistant

import "strings"

// Intent is a command the assistant can answer without the language model
type Intent int

const (
	IntentNone Intent = iota
	IntentListOrders
	IntentCancelOrder
	IntentListProducts
)

func (i Intent) String() string {
	switch i {
	case IntentListOrders:
		return "list_orders"
	case IntentCancelOrder:
		return "cancel_order"
	case IntentListProducts:
		return "list_products"
	default:
		return "none"
	}
}

// rule matches when every word in all and at least one word in any (if given) occur in the message
type rule struct {
	intent Intent
	all    []string
	any    []string
}

// rules are checked in order; the first match wins
var rules = []rule{
	{intent: IntentListOrders, all: []string{"show"}, any: []string{"order", "track"}},
	{intent: IntentListOrders, all: []string{"track", "order"}},
	{intent: IntentCancelOrder, all: []string{"cancel", "order"}},
	{intent: IntentListProducts, any: []string{"product", "buy", "shop"}},
}

// Classify maps a chat message to a command intent. Matching is case-insensitive on substrings.
func Classify(message string) Intent {
	lower := strings.ToLower(message)
	for _, r := range rules {
		if r.matches(lower) {
			return r.intent
		}
	}
	return IntentNone
}

func (r rule) matches(lower string) bool {
	for _, w := range r.all {
		if !strings.Contains(lower, w) {
			return false
		}
	}
	if len(r.any) == 0 {
		return true
	}
	for _, w := range r.any {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
