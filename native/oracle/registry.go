package oracle

import (
	"bytes"
	"fmt"
	"math/big"
	"time"

	"bondledger/core/events"
	"bondledger/core/state"
	"bondledger/crypto"
	"bondledger/native/precision"
)

type registryState interface {
	Identity(slot string) ([]byte, error)
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Feed is the persisted configuration and latest reading of a symbol.
type Feed struct {
	Symbol    string
	Decimals  uint8
	Price     *big.Int
	Timestamp uint64
}

func feedKey(symbol string) []byte {
	return []byte("oracle/feed/" + symbol)
}

// Registry is the state-backed price feed table. The registry admin manages
// feeds and the oracle authority publishes readings.
type Registry struct {
	st      registryState
	emitter events.Emitter
	now     func() time.Time
}

func NewRegistry(st registryState) *Registry {
	return &Registry{st: st, emitter: events.NoopEmitter{}, now: time.Now}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetClock overrides the time source used to stamp published prices.
func (r *Registry) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

func (r *Registry) authorize(slot string, caller crypto.Address) error {
	stored, err := r.st.Identity(slot)
	if err != nil {
		return err
	}
	if len(stored) == 0 || !bytes.Equal(stored, caller.Bytes()) {
		return ErrNotAuthorized
	}
	return nil
}

// SetFeed registers symbol or changes its precision. Changing the precision
// invalidates the stored reading.
func (r *Registry) SetFeed(caller crypto.Address, symbol string, decimals uint8) error {
	if err := r.authorize(state.SlotRegistryAdmin, caller); err != nil {
		return err
	}
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return ErrInvalidSymbol
	}
	if decimals == 0 || decimals > precision.Decimals {
		return fmt.Errorf("%w: got %d", ErrInvalidDecimals, decimals)
	}
	feed, err := r.Feed(symbol)
	if err != nil {
		return err
	}
	if feed == nil || feed.Decimals != decimals {
		feed = &Feed{Symbol: symbol, Decimals: decimals, Price: big.NewInt(0)}
	}
	if err := r.st.KVPut(feedKey(symbol), feed); err != nil {
		return err
	}
	r.emitter.Emit(events.SetFeed{Symbol: symbol, Decimals: decimals})
	return nil
}

// DeleteFeed removes the feed for symbol.
func (r *Registry) DeleteFeed(caller crypto.Address, symbol string) error {
	if err := r.authorize(state.SlotRegistryAdmin, caller); err != nil {
		return err
	}
	symbol = normalizeSymbol(symbol)
	feed, err := r.Feed(symbol)
	if err != nil {
		return err
	}
	if feed == nil {
		return fmt.Errorf("%w: %s", ErrFeedNotFound, symbol)
	}
	if err := r.st.KVDelete(feedKey(symbol)); err != nil {
		return err
	}
	r.emitter.Emit(events.DeleteFeed{Symbol: symbol})
	return nil
}

// PublishPrice records a new raw reading for a registered feed. The price is
// expressed with the feed's configured decimals.
func (r *Registry) PublishPrice(caller crypto.Address, symbol string, price *big.Int) error {
	if err := r.authorize(state.SlotOracleAuthority, caller); err != nil {
		return err
	}
	symbol = normalizeSymbol(symbol)
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("%w: %s", ErrPriceZero, symbol)
	}
	feed, err := r.Feed(symbol)
	if err != nil {
		return err
	}
	if feed == nil {
		return fmt.Errorf("%w: %s", ErrFeedNotFound, symbol)
	}
	if _, err := precision.Normalize(price, feed.Decimals); err != nil {
		return fmt.Errorf("oracle: scale %s price: %w", symbol, err)
	}
	feed.Price = new(big.Int).Set(price)
	feed.Timestamp = uint64(r.now().Unix())
	if err := r.st.KVPut(feedKey(symbol), feed); err != nil {
		return err
	}
	r.emitter.Emit(events.PriceUpdated{Symbol: symbol, Price: feed.Price, Timestamp: feed.Timestamp})
	return nil
}

// Feed returns the stored feed for symbol, or nil when none is registered.
func (r *Registry) Feed(symbol string) (*Feed, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, ErrInvalidSymbol
	}
	feed := new(Feed)
	found, err := r.st.KVGet(feedKey(symbol), feed)
	if err != nil || !found {
		return nil, err
	}
	if feed.Price == nil {
		feed.Price = big.NewInt(0)
	}
	return feed, nil
}

// LatestPrice implements PriceFeed.
func (r *Registry) LatestPrice(symbol string) (Quote, error) {
	feed, err := r.Feed(symbol)
	if err != nil {
		return Quote{}, err
	}
	if feed == nil {
		return Quote{}, fmt.Errorf("%w: %s", ErrFeedNotFound, normalizeSymbol(symbol))
	}
	return Quote{Price: new(big.Int).Set(feed.Price), Decimals: feed.Decimals, Timestamp: feed.Timestamp}, nil
}
