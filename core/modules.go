package core

import (
	"time"

	"bondledger/core/events"
	"bondledger/core/state"
	nativecommon "bondledger/native/common"
	"bondledger/native/asset"
	"bondledger/native/bond"
	"bondledger/native/oracle"
	"bondledger/native/redemption"
	"bondledger/native/registry"
	"bondledger/native/vault"
)

// Modules is the set of native modules wired over a single state view.
type Modules struct {
	Oracle     *oracle.Registry
	Prices     *oracle.Adapter
	Assets     *asset.Ledger
	Registry   *registry.Registry
	Vaults     *vault.Ledger
	Bonds      *bond.Engine
	Redemption *redemption.Pool
}

// ModuleOptions carries the collaborators shared by every module.
type ModuleOptions struct {
	Emitter events.Emitter
	Pauses  nativecommon.PauseView
	Now     func() time.Time
}

// NewModules builds the native modules over st. Every module emits into the
// same emitter so the resulting event order matches execution order.
func NewModules(st *state.Manager, opts ModuleOptions) *Modules {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}

	feeds := oracle.NewRegistry(st)
	feeds.SetClock(now)
	feeds.SetEmitter(emitter)
	prices := oracle.NewAdapter(feeds)

	assets := asset.NewLedger(st)
	assets.SetEmitter(emitter)

	reg := registry.New(st)
	reg.SetEmitter(emitter)

	vaults := vault.NewLedger(st, reg, prices, assets)
	vaults.SetEmitter(emitter)
	vaults.SetPauses(opts.Pauses)

	bonds := bond.NewEngine(st, reg, vaults, assets)
	bonds.SetEmitter(emitter)
	bonds.SetPauses(opts.Pauses)
	bonds.SetClock(now)

	pool := redemption.NewPool(reg, bonds, assets)
	pool.SetEmitter(emitter)
	pool.SetPauses(opts.Pauses)
	pool.SetClock(now)

	return &Modules{
		Oracle:     feeds,
		Prices:     prices,
		Assets:     assets,
		Registry:   reg,
		Vaults:     vaults,
		Bonds:      bonds,
		Redemption: pool,
	}
}
