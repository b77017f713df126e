// Package plan holds the plan catalog and the transition calculator that
// decides how much a buyer pays today.
//
// Plans come from a Source (in-memory or a YAML file) and are validated by
// NewCatalog. ComputeAmount is pure: it takes the buyer's current
// subscription, always read from the subscription store and never from
// client input, plus the target plan, and returns a Quote.
//
//	quote, err := plan.ComputeAmount(&plan.Current{PlanID: "basic", MonthlyPrice: basic.Price}, pro)
//	// quote.Kind == plan.KindUpgrade, quote.AmountDueToday.Amount == pro.Price.Amount - basic.Price.Amount
package plan
