package sim

import (
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/cookiechain/internal/ledger"
)

// Abort codes raised by the contract rules.
const (
	AbortAlreadyInitialized = "E_ALREADY_INITIALIZED"
	AbortNotInitialized     = "E_NOT_INITIALIZED"
	AbortInsufficient       = "E_INSUFFICIENT_COOKIES"
	AbortAlreadyOwned       = "E_UPGRADE_ALREADY_OWNED"
	AbortPrestigeThreshold  = "E_PRESTIGE_THRESHOLD_NOT_MET"
	AbortInjected           = "E_INJECTED_FAILURE"
)

type player struct {
	cookies      int64
	upgrades     [3]bool
	autoClickers [3]int64
	prestige     int64
	accrued      int64 // passive cookies banked before a rate change
	lastCollect  time.Time
}

func (p *player) multiplier() int64 {
	best := int64(1)
	for i, owned := range p.upgrades {
		if owned && ledger.UpgradeMultipliers[i] > best {
			best = ledger.UpgradeMultipliers[i]
		}
	}
	return best * (1 + p.prestige)
}

func (p *player) rate() int64 {
	var cps int64
	for i, n := range p.autoClickers {
		cps += n * ledger.AutoClickerRates[i]
	}
	return cps
}

// bank moves passive cookies accrued up to now into accrued so a rate
// change does not apply retroactively.
func (p *player) bank(now time.Time) {
	secs := int64(now.Sub(p.lastCollect) / time.Second)
	if secs <= 0 {
		return
	}
	p.accrued += secs * p.rate()
	p.lastCollect = p.lastCollect.Add(time.Duration(secs) * time.Second)
}

func (p *player) stats() ledger.Stats {
	return ledger.Stats{
		TotalCookies:     p.cookies,
		ClickMultiplier:  p.multiplier(),
		CookiesPerSecond: p.rate(),
		PrestigeLevel:    p.prestige,
		Upgrades:         p.upgrades,
		AutoClickers:     p.autoClickers,
	}
}

// call is a parsed entry-function invocation.
type call struct {
	fn   string
	args []int64
}

var arity = map[string]int{
	ledger.FnInitializePlayer:      0,
	ledger.FnClickCookie:           0,
	ledger.FnBuyUpgrade:            1,
	ledger.FnBuyAutoClicker:        2,
	ledger.FnCollectPassiveCookies: 0,
	ledger.FnPrestige:              0,
}

// parseCall validates function name and argument shape, the checks a real
// ledger performs before accepting a transaction.
func parseCall(c ledger.Contract, op ledger.Operation) (call, error) {
	fn, ok := c.EntryFunction(op.Function)
	if !ok {
		return call{}, fmt.Errorf("unknown module for function %q", op.Function)
	}
	n, ok := arity[fn]
	if !ok {
		return call{}, fmt.Errorf("unknown entry function %q", fn)
	}
	if len(op.Args) != n {
		return call{}, fmt.Errorf("%s takes %d arguments, got %d", fn, n, len(op.Args))
	}

	args := make([]int64, n)
	for i, a := range op.Args {
		v, err := strconv.ParseInt(a, 10, 64)
		if err != nil || v < 0 {
			return call{}, fmt.Errorf("%s argument %d: invalid u64 %q", fn, i, a)
		}
		args[i] = v
	}

	switch fn {
	case ledger.FnBuyUpgrade:
		if args[0] >= int64(len(ledger.UpgradeCosts)) {
			return call{}, fmt.Errorf("upgrade id %d out of range", args[0])
		}
	case ledger.FnBuyAutoClicker:
		if args[0] >= int64(len(ledger.AutoClickerCosts)) {
			return call{}, fmt.Errorf("auto clicker type %d out of range", args[0])
		}
		if args[1] == 0 {
			return call{}, fmt.Errorf("auto clicker quantity must be positive")
		}
	}
	return call{fn: fn, args: args}, nil
}

// execute applies a call to the player table and returns an abort code, or
// "" on success.
func execute(players map[string]*player, sender string, c call, now time.Time) string {
	p := players[sender]

	if c.fn == ledger.FnInitializePlayer {
		if p != nil {
			return AbortAlreadyInitialized
		}
		players[sender] = &player{lastCollect: now}
		return ""
	}
	if p == nil {
		return AbortNotInitialized
	}

	switch c.fn {
	case ledger.FnClickCookie:
		p.cookies += p.multiplier()

	case ledger.FnBuyUpgrade:
		id := c.args[0]
		if p.upgrades[id] {
			return AbortAlreadyOwned
		}
		if p.cookies < ledger.UpgradeCosts[id] {
			return AbortInsufficient
		}
		p.cookies -= ledger.UpgradeCosts[id]
		p.upgrades[id] = true

	case ledger.FnBuyAutoClicker:
		typ, qty := c.args[0], c.args[1]
		cost := ledger.AutoClickerCosts[typ] * qty
		if p.cookies < cost {
			return AbortInsufficient
		}
		p.bank(now)
		p.cookies -= cost
		p.autoClickers[typ] += qty

	case ledger.FnCollectPassiveCookies:
		p.bank(now)
		p.cookies += p.accrued
		p.accrued = 0

	case ledger.FnPrestige:
		if p.cookies < ledger.PrestigeThreshold {
			return AbortPrestigeThreshold
		}
		*p = player{prestige: p.prestige + 1, lastCollect: now}
	}
	return ""
}
