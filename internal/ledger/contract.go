package ledger

import (
	"fmt"

	"github.com/roach88/cookiechain/internal/tx"
)

// DefaultModuleAddress is the testnet deployment of the game contract.
const DefaultModuleAddress = "0xda81e838661e2e314b08c09efd26db04c529e02e26359bdafd3ad6fff81489d7"

// ModuleName is the contract module name.
const ModuleName = "cookie_clicker"

// Entry function names.
const (
	FnInitializePlayer      = "initialize_player"
	FnClickCookie           = "click_cookie"
	FnBuyUpgrade            = "buy_upgrade"
	FnBuyAutoClicker        = "buy_auto_clicker"
	FnCollectPassiveCookies = "collect_passive_cookies"
	FnPrestige              = "prestige"
)

// Game constants mirrored from the contract.
const PrestigeThreshold int64 = 1_000_000

var (
	UpgradeNames       = [3]string{"Double Cursor", "Golden Touch", "Divine Finger"}
	UpgradeCosts       = [3]int64{100, 1_000, 10_000}
	UpgradeMultipliers = [3]int64{2, 5, 10}

	AutoClickerNames = [3]string{"Grandma", "Factory", "Bank"}
	AutoClickerCosts = [3]int64{50, 500, 5_000}
	AutoClickerRates = [3]int64{1, 10, 100}
)

var kindFunctions = map[tx.Kind]string{
	tx.KindInitialize:     FnInitializePlayer,
	tx.KindClick:          FnClickCookie,
	tx.KindUpgrade:        FnBuyUpgrade,
	tx.KindAutoClicker:    FnBuyAutoClicker,
	tx.KindCollectPassive: FnCollectPassiveCookies,
	tx.KindPrestige:       FnPrestige,
}

// Contract names a deployed game module.
type Contract struct {
	Address string
	Module  string
}

// DefaultContract returns the testnet deployment.
func DefaultContract() Contract {
	return Contract{Address: DefaultModuleAddress, Module: ModuleName}
}

// Qualified returns "address::module::fn".
func (c Contract) Qualified(fn string) string {
	return fmt.Sprintf("%s::%s::%s", c.Address, c.Module, fn)
}

// Operation builds the entry-function call for kind.
func (c Contract) Operation(kind tx.Kind, args []string) (Operation, error) {
	fn, ok := kindFunctions[kind]
	if !ok {
		return Operation{}, fmt.Errorf("no entry function for kind %q", kind)
	}
	return Operation{Function: c.Qualified(fn), Args: append([]string(nil), args...)}, nil
}

// EntryFunction strips the address and module from a qualified name.
// Returns false when the name does not belong to c.
func (c Contract) EntryFunction(qualified string) (string, bool) {
	prefix := fmt.Sprintf("%s::%s::", c.Address, c.Module)
	if len(qualified) <= len(prefix) || qualified[:len(prefix)] != prefix {
		return "", false
	}
	return qualified[len(prefix):], true
}
