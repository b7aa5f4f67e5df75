package models

// Category is the closed set of signal categories emitted by collectors.
type Category string

const (
	CategorySizeBreak    Category = "size_break"
	CategoryMarkdownRisk Category = "markdown_risk"
	CategoryCashLock     Category = "cash_lock"
	CategoryMarginLeak   Category = "margin_leak"
	CategoryLostRevenue  Category = "lost_revenue"
)

// Categories lists every category in a fixed order.
var Categories = []Category{
	CategorySizeBreak,
	CategoryMarkdownRisk,
	CategoryCashLock,
	CategoryMarginLeak,
	CategoryLostRevenue,
}

func (c Category) Valid() bool {
	switch c {
	case CategorySizeBreak, CategoryMarkdownRisk, CategoryCashLock, CategoryMarginLeak, CategoryLostRevenue:
		return true
	}
	return false
}

// IsMonetary reports whether the category's amount is summed into damage.
func (c Category) IsMonetary() bool {
	switch c {
	case CategoryCashLock, CategoryMarginLeak, CategoryLostRevenue:
		return true
	case CategorySizeBreak, CategoryMarkdownRisk:
		return false
	}
	return false
}

func (c Category) Label() string {
	switch c {
	case CategorySizeBreak:
		return "Size break"
	case CategoryMarkdownRisk:
		return "Markdown risk"
	case CategoryCashLock:
		return "Cash locked"
	case CategoryMarginLeak:
		return "Margin leak"
	case CategoryLostRevenue:
		return "Lost revenue"
	}
	return string(c)
}

// Signal is one normalized unit of risk evidence for a subject.
// Amount is in currency units; zero means the collector attached no amount.
type Signal struct {
	SubjectID string                 `json:"subjectId"`
	Category  Category               `json:"category"`
	Amount    int64                  `json:"amount,omitempty"`
	ETADays   *int                   `json:"etaDays,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Source    string                 `json:"source,omitempty"`
}

// Urgency of an aggregated priority item.
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyUrgent   Urgency = "urgent"
	UrgencyWarning  Urgency = "warning"
)

// Rank orders urgencies; lower is more urgent. Unknown values rank last.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyCritical:
		return 0
	case UrgencyUrgent:
		return 1
	case UrgencyWarning:
		return 2
	}
	return 3
}

func (u Urgency) Valid() bool {
	return u.Rank() < 3
}

type ComponentDamages struct {
	CashLocked  int64 `json:"cashLocked"`
	LostRevenue int64 `json:"lostRevenue"`
	MarginLeak  int64 `json:"marginLeak"`
}

func (c ComponentDamages) Total() int64 {
	return c.CashLocked + c.LostRevenue + c.MarginLeak
}

type Contributor struct {
	Category Category               `json:"category"`
	Amount   int64                  `json:"amount"`
	Source   string                 `json:"source,omitempty"`
	Detail   map[string]interface{} `json:"detail,omitempty"`
}

// PriorityItem is the ranked aggregate of every signal for one subject.
type PriorityItem struct {
	SubjectID        string           `json:"subjectId"`
	Rank             int              `json:"rank"`
	DominantCategory Category         `json:"dominantCategory"`
	TotalDamage      int64            `json:"totalDamage"`
	ComponentDamages ComponentDamages `json:"componentDamages"`
	ETADays          *int             `json:"etaDays,omitempty"`
	Urgency          Urgency          `json:"urgency"`
	TopContributors  []Contributor    `json:"topContributors"`
}
