package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tos-network/gtos-faas/kvstore"
)

func newRegistry(t *testing.T) *Registry {
	r, err := New(kvstore.NewMemStore(), 16)
	require.NoError(t, err)
	return r
}

func validRegisterReq(id string) RegisterRequest {
	return RegisterRequest{
		ID:         id,
		Principal:  "p1",
		Name:       "my-fn",
		Code:       "export default (x) => x;",
		RuntimeTag: RuntimeJS,
		Security:   SecurityHigh,
		Trigger:    TriggerSpec{Tag: TriggerCustom, EventName: "ping"},
	}
}

func TestRegisterThenGet(t *testing.T) {
	r := newRegistry(t)
	fn, err := r.Register(validRegisterReq("f1"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), fn.Version)
	require.NotEmpty(t, fn.Hash)

	got, err := r.Get("f1")
	require.NoError(t, err)
	require.Equal(t, fn.Hash, got.Hash)
}

func TestRegisterDuplicateID(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Register(validRegisterReq("f1"))
	require.NoError(t, err)
	_, err = r.Register(validRegisterReq("f1"))
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestUpdateVersionIncrementsByOne(t *testing.T) {
	r := newRegistry(t)
	fn, err := r.Register(validRegisterReq("f1"))
	require.NoError(t, err)

	newCode := "export default (x) => x + 1;"
	updated, err := r.Update(UpdateRequest{ID: "f1", Code: &newCode})
	require.NoError(t, err)
	require.Equal(t, fn.Version+1, updated.Version)
	require.True(t, !updated.CreatedAt.After(updated.UpdatedAt))
	require.NotEqual(t, fn.Hash, updated.Hash)

	v1, err := r.GetVersion("f1", 1)
	require.NoError(t, err)
	require.Equal(t, fn.Hash, v1.Hash) // old version unmutated
}

func TestDeleteRemovesAllVersions(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Register(validRegisterReq("f1"))
	require.NoError(t, err)
	newName := "renamed-fn"
	_, err = r.Update(UpdateRequest{ID: "f1", Name: &newName})
	require.NoError(t, err)

	require.NoError(t, r.Delete("f1"))

	_, err = r.Get("f1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetVersion("f1", 1)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetVersion("f1", 2)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCodeLengthBoundary(t *testing.T) {
	r := newRegistry(t)

	req := validRegisterReq("f-empty")
	req.Code = ""
	_, err := r.Register(req)
	require.ErrorIs(t, err, ErrInvalidCode)

	req2 := validRegisterReq("f-one")
	req2.Code = "x"
	_, err = r.Register(req2)
	require.NoError(t, err)

	req3 := validRegisterReq("f-max")
	req3.Code = strings.Repeat("x", MaxCodeLen)
	_, err = r.Register(req3)
	require.NoError(t, err)

	req4 := validRegisterReq("f-toolong")
	req4.Code = strings.Repeat("x", MaxCodeLen+1)
	_, err = r.Register(req4)
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestTriggerSpecValidation(t *testing.T) {
	r := newRegistry(t)
	req := validRegisterReq("f1")
	req.Trigger = TriggerSpec{Tag: TriggerBlockchain} // missing network
	_, err := r.Register(req)
	require.ErrorIs(t, err, ErrInvalidTrigger)

	req2 := validRegisterReq("f2")
	req2.Trigger = TriggerSpec{Tag: TriggerMarket, AssetPair: "BTC/USD", Condition: MarketAbove, Price: 50000}
	_, err = r.Register(req2)
	require.NoError(t, err)
}

func TestListFiltersByTriggerTag(t *testing.T) {
	r := newRegistry(t)
	custom := validRegisterReq("f-custom")
	_, err := r.Register(custom)
	require.NoError(t, err)

	market := validRegisterReq("f-market")
	market.Trigger = TriggerSpec{Tag: TriggerMarket, AssetPair: "ETH/USD", Condition: MarketBelow, Price: 1000}
	_, err = r.Register(market)
	require.NoError(t, err)

	results, err := r.List(TriggerMarket)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "f-market", results[0].ID)

	all, err := r.List("")
	require.NoError(t, err)
	require.Len(t, all, 2)
}
