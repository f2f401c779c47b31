package lifecycle

import "sort"

const (
	ClassUnnamed    = "unnamed"
	ClassNamed      = "named"
	ClassSubaccount = "subaccount"
)

// Limits are plan-defined caps on authorized wallets.
type Limits struct {
	Unnamed       int
	Named         int
	PerSubaccount int
}

func DefaultLimits() Limits {
	return Limits{Unnamed: 1, Named: 3, PerSubaccount: 2}
}

type Usage struct {
	Used  int
	Limit int
}

func (u Usage) Available() int {
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}

type SubaccountUsage struct {
	Subaccount string
	Usage
}

// Quota is derived from the authorized wallets; it is never stored.
type Quota struct {
	Unnamed     Usage
	Named       Usage
	Subaccounts []SubaccountUsage
}

func computeQuota(wallets []*Wallet, limits Limits, subaccounts map[string]struct{}) Quota {
	q := Quota{
		Unnamed: Usage{Limit: limits.Unnamed},
		Named:   Usage{Limit: limits.Named},
	}
	perSub := make(map[string]int, len(subaccounts))
	for name := range subaccounts {
		perSub[name] = 0
	}
	for _, w := range wallets {
		if w.Status != StatusAuthorized {
			continue
		}
		switch {
		case w.Subaccount != "":
			perSub[w.Subaccount]++
		case w.Named():
			q.Named.Used++
		default:
			q.Unnamed.Used++
		}
	}

	names := make([]string, 0, len(perSub))
	for name := range perSub {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		limit := 0
		if _, ok := subaccounts[name]; ok {
			limit = limits.PerSubaccount
		}
		q.Subaccounts = append(q.Subaccounts, SubaccountUsage{
			Subaccount: name,
			Usage:      Usage{Used: perSub[name], Limit: limit},
		})
	}
	return q
}

// usageFor returns the class and usage a wallet with the given shape is
// charged against.
func (q Quota) usageFor(named bool, subaccount string) (string, Usage) {
	if subaccount != "" {
		for _, s := range q.Subaccounts {
			if s.Subaccount == subaccount {
				return ClassSubaccount, s.Usage
			}
		}
		return ClassSubaccount, Usage{}
	}
	if named {
		return ClassNamed, q.Named
	}
	return ClassUnnamed, q.Unnamed
}
