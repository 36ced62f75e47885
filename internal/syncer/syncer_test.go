package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offersearch/api/internal/docstore"
	"offersearch/api/internal/entitydata"
	"offersearch/api/internal/model"
)

type fixture struct {
	store    *docstore.Memory
	provider *entitydata.Static
	sync     *Synchronizer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := docstore.NewMemory()
	provider := entitydata.NewStatic()
	return &fixture{store: store, provider: provider, sync: New(store, provider, opts...)}
}

func command(docID string, kind model.EntityKind, op model.Operation, payload any) model.Command {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return model.Command{DocumentID: docID, EntityKind: kind, Operation: op, Payload: raw}
}

func (f *fixture) apply(t *testing.T, cmd model.Command) {
	t.Helper()
	require.NoError(t, f.sync.Apply(context.Background(), cmd))
}

func (f *fixture) doc(t *testing.T, id string) *model.OfferDocument {
	t.Helper()
	doc, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, doc.CheckContainment())
	return doc
}

func offer(id, seller string) model.Offer {
	return model.Offer{OfferID: model.ID(id), SellerID: model.ID(seller), VehicleYear: "2020", VehicleMake: "Toyota", VehicleModel: "Camry"}
}

func TestCreateOfferWithoutSeller(t *testing.T) {
	f := newFixture(t)
	f.apply(t, command("O1", model.KindOffer, model.OpCreate, offer("O1", "S1")))

	doc := f.doc(t, "O1")
	assert.Equal(t, model.ID("O1"), doc.OfferID)
	assert.Empty(t, doc.Purchases)
	assert.Empty(t, doc.Transports)
	assert.Nil(t, doc.Seller)
	assert.Equal(t, []string{"2020 Toyota Camry"}, doc.SearchableText)

	f.apply(t, command("S1", model.KindSeller, model.OpUpdate, model.Seller{SellerID: "S1", Name: "Acme"}))
	doc = f.doc(t, "O1")
	require.NotNil(t, doc.Seller)
	assert.Equal(t, "Acme", doc.Seller.Name)
	assert.Equal(t, "Acme", doc.SellerName)
}

func TestCreateOfferPullsChildrenFromProvider(t *testing.T) {
	f := newFixture(t)
	f.provider.MustPut(model.KindSeller, model.Seller{SellerID: "S1", Name: "Acme"})
	f.provider.MustPut(model.KindBuyer, model.Buyer{ID: "B1", Name: "Jane"})
	f.provider.MustPut(model.KindPurchase, model.Purchase{ID: "P1", OfferID: "O1", BuyerID: "B1"})
	f.provider.MustPut(model.KindPurchase, model.Purchase{ID: "P9", OfferID: "O9", BuyerID: "B1"})
	f.provider.MustPut(model.KindTransport, model.Transport{ID: "T1", PurchaseID: "P1", CarrierID: "C1"})

	f.apply(t, command("O1", model.KindOffer, model.OpCreate, offer("O1", "S1")))

	doc := f.doc(t, "O1")
	require.NotNil(t, doc.Seller)
	assert.Equal(t, "Acme", doc.Seller.Name)
	require.Len(t, doc.Purchases, 1)
	assert.Equal(t, model.ID("P1"), doc.Purchases[0].ID)
	require.NotNil(t, doc.Purchases[0].Buyer)
	assert.Equal(t, "Jane", doc.Purchases[0].Buyer.Name)
	require.Len(t, doc.Transports, 1)
	assert.Nil(t, doc.Transports[0].Carrier, "carriers are only filled by carrier events")
}

func TestOfferUpdateKeepsEmbeddedState(t *testing.T) {
	f := newFixture(t)
	f.apply(t, command("O1", model.KindOffer, model.OpCreate, offer("O1", "S1")))
	f.apply(t, command("O1", model.KindPurchase, model.OpCreate, model.Purchase{ID: "P1", OfferID: "O1", BuyerID: "B1"}))
	f.apply(t, command("B1", model.KindBuyer, model.OpUpdate, model.Buyer{ID: "B1", Name: "Jane"}))

	updated := offer("O1", "S1")
	updated.Mileage = 1234
	updated.Status = "sold"
	f.apply(t, command("O1", model.KindOffer, model.OpUpdate, updated))

	doc := f.doc(t, "O1")
	assert.Equal(t, 1234, doc.Mileage)
	assert.Equal(t, []string{"2020 Toyota Camry", "sold"}, doc.SearchableText)
	require.Len(t, doc.Purchases, 1, "purchase unknown to the provider is kept")
	require.NotNil(t, doc.Purchases[0].Buyer, "cached buyer survives the rebuild")
	assert.Equal(t, "Jane", doc.Purchases[0].Buyer.Name)
}

func TestCreatePurchaseAfterOffer(t *testing.T) {
	f := newFixture(t)
	f.provider.MustPut(model.KindBuyer, model.Buyer{ID: "B1", Name: "Jane"})
	f.apply(t, command("O1", model.KindOffer, model.OpCreate, offer("O1", "S1")))
	f.apply(t, command("O1", model.KindPurchase, model.OpCreate, model.Purchase{ID: "P1", OfferID: "O1", BuyerID: "B1"}))

	doc := f.doc(t, "O1")
	require.Len(t, doc.Purchases, 1)
	assert.Equal(t, model.ID("P1"), doc.Purchases[0].ID)
	require.NotNil(t, doc.Purchases[0].Buyer)
	assert.Equal(t, "Jane", doc.Purchases[0].Buyer.Name)
}

func TestPurchaseBeforeOfferIsAReferentialGap(t *testing.T) {
	f := newFixture(t)
	err := f.sync.Apply(context.Background(), command("O1", model.KindPurchase, model.OpCreate, model.Purchase{ID: "P1", OfferID: "O1"}))
	require.NoError(t, err)
	assert.Zero(t, f.store.Len())

	err = f.sync.Apply(context.Background(), command("O1", model.KindPurchase, model.OpUpdate, model.Purchase{ID: "P1", OfferID: "O1"}))
	require.NoError(t, err)
	assert.Zero(t, f.store.Len())
}

func TestPurchaseUpdateMovesBetweenOffers(t *testing.T) {
	f := newFixture(t)
	f.apply(t, command("O1", model.KindOffer, model.OpCreate, offer("O1", "S1")))
	f.apply(t, command("O2", model.KindOffer, model.OpCreate, offer("O2", "S1")))
	f.apply(t, command("O1", model.KindPurchase, model.OpCreate, model.Purchase{ID: "P1", OfferID: "O1", BuyerID: "B1"}))
	f.apply(t, command("O1", model.KindTransport, model.OpCreate, model.Transport{ID: "T1", PurchaseID: "P1", CarrierID: "C1"}))

	f.apply(t, command("O2", model.KindPurchase, model.OpUpdate, model.Purchase{ID: "P1", OfferID: "O2", BuyerID: "B1", Amount: 99}))

	old := f.doc(t, "O1")
	assert.Empty(t, old.Purchases)
	assert.Empty(t, old.Transports)

	moved := f.doc(t, "O2")
	require.Len(t, moved.Purchases, 1)
	assert.Equal(t, 99.0, moved.Purchases[0].Amount)
	require.Len(t, moved.Transports, 1, "transports travel with their purchase")
}

func TestDeletePurchaseCascadesToTransports(t *testing.T) {
	f := newFixture(t)
	f.apply(t, command("O1", model.KindOffer, model.OpCreate, offer("O1", "S1")))
	f.apply(t, command("O1", model.KindPurchase, model.OpCreate, model.Purchase{ID: "P1", OfferID: "O1"}))
	f.apply(t, command("O1", model.KindTransport, model.OpCreate, model.Transport{ID: "T1", PurchaseID: "P1"}))

	f.apply(t, command("O1", model.KindPurchase, model.OpDelete, map[string]any{"id": "P1"}))

	doc := f.doc(t, "O1")
	assert.Empty(t, doc.Purchases)
	assert.Empty(t, doc.Transports)
}

func TestDeleteTransportKeepsDocument(t *testing.T) {
	f := newFixture(t)
	f.apply(t, command("O1", model.KindOffer, model.OpCreate, offer("O1", "S1")))
	f.apply(t, command("O1", model.KindPurchase, model.OpCreate, model.Purchase{ID: "P1", OfferID: "O1"}))
	f.apply(t, command("O1", model.KindTransport, model.OpCreate, model.Transport{ID: "T1", PurchaseID: "P1"}))
	f.apply(t, command("O1", model.KindTransport, model.OpCreate, model.Transport{ID: "T2", PurchaseID: "P1"}))

	f.apply(t, command("O1", model.KindTransport, model.OpDelete, map[string]any{"id": "T1"}))

	doc := f.doc(t, "O1")
	require.Len(t, doc.Transports, 1)
	assert.Equal(t, model.ID("T2"), doc.Transports[0].ID)
	require.Len(t, doc.Purchases, 1)
}

func TestTransportUpdateKeepsCarrierWhenUnchanged(t *testing.T) {
	f := newFixture(t)
	f.apply(t, command("O1", model.KindOffer, model.OpCreate, offer("O1", "S1")))
	f.apply(t, command("O1", model.KindPurchase, model.OpCreate, model.Purchase{ID: "P1", OfferID: "O1"}))
	f.apply(t, command("O1", model.KindTransport, model.OpCreate, model.Transport{ID: "T1", PurchaseID: "P1", CarrierID: "C1"}))
	f.apply(t, command("C1", model.KindCarrier, model.OpCreate, model.Carrier{ID: "C1", Name: "Haul Co"}))

	f.apply(t, command("O1", model.KindTransport, model.OpUpdate, model.Transport{ID: "T1", PurchaseID: "P1", CarrierID: "C1", Status: "in_transit"}))
	doc := f.doc(t, "O1")
	require.NotNil(t, doc.Transports[0].Carrier)
	assert.Equal(t, "in_transit", doc.Transports[0].Status)

	f.apply(t, command("O1", model.KindTransport, model.OpUpdate, model.Transport{ID: "T1", PurchaseID: "P1", CarrierID: "C2"}))
	doc = f.doc(t, "O1")
	assert.Nil(t, doc.Transports[0].Carrier, "a different carrier drops the old snapshot")
}

func TestProfileFanOutReachesEveryDocument(t *testing.T) {
	f := newFixture(t, WithPageSize(2))
	for i := 1; i <= 5; i++ {
		offerID := fmt.Sprintf("O%d", i)
		f.apply(t, command(offerID, model.KindOffer, model.OpCreate, offer(offerID, "S1")))
		f.apply(t, command(offerID, model.KindPurchase, model.OpCreate, model.Purchase{ID: model.ID("P" + offerID), OfferID: model.ID(offerID), BuyerID: "B1"}))
	}
	f.apply(t, command("O6", model.KindOffer, model.OpCreate, offer("O6", "S2")))

	f.apply(t, command("S1", model.KindSeller, model.OpUpdate, model.Seller{SellerID: "S1", Name: "Acme"}))
	f.apply(t, command("B1", model.KindBuyer, model.OpUpdate, model.Buyer{ID: "B1", Name: "Jane"}))

	for i := 1; i <= 5; i++ {
		doc := f.doc(t, fmt.Sprintf("O%d", i))
		require.NotNil(t, doc.Seller)
		assert.Equal(t, "Acme", doc.Seller.Name)
		require.NotNil(t, doc.Purchases[0].Buyer)
		assert.Equal(t, "Jane", doc.Purchases[0].Buyer.Name)
	}
	assert.Nil(t, f.doc(t, "O6").Seller)

	f.apply(t, command("B1", model.KindBuyer, model.OpDelete, map[string]any{"id": "B1"}))
	for i := 1; i <= 5; i++ {
		doc := f.doc(t, fmt.Sprintf("O%d", i))
		assert.Nil(t, doc.Purchases[0].Buyer)
		assert.Len(t, doc.Purchases, 1, "profile delete never removes the purchase")
	}
}

// windowedStore reports a result window the way the search engines do.
type windowedStore struct {
	*docstore.Memory
	window int
}

func (s *windowedStore) ResultWindow() int { return s.window }

func TestFanOutFailsAtResultWindow(t *testing.T) {
	tests := []struct {
		name    string
		window  int
		wantErr bool
	}{
		{"window reached", 3, true},
		{"window clear", 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &windowedStore{Memory: docstore.NewMemory(), window: tt.window}
			s := New(store, entitydata.NewStatic(), WithPageSize(2))
			ctx := context.Background()
			for i := 1; i <= 5; i++ {
				offerID := fmt.Sprintf("O%d", i)
				require.NoError(t, s.Apply(ctx, command(offerID, model.KindOffer, model.OpCreate, offer(offerID, "S1"))))
			}

			err := s.Apply(ctx, command("S1", model.KindSeller, model.OpUpdate, model.Seller{SellerID: "S1", Name: "Acme"}))
			if !tt.wantErr {
				require.NoError(t, err)
				for i := 1; i <= 5; i++ {
					doc, err := store.Get(ctx, fmt.Sprintf("O%d", i))
					require.NoError(t, err)
					require.NotNil(t, doc.Seller)
				}
				return
			}
			require.ErrorIs(t, err, ErrLookupTruncated)
			assert.NotErrorIs(t, err, ErrMalformed, "truncation must be redelivered, not dropped")
			for i := 1; i <= 5; i++ {
				doc, err := store.Get(ctx, fmt.Sprintf("O%d", i))
				require.NoError(t, err)
				assert.Nil(t, doc.Seller, "nothing is written from a partial lookup")
			}
		})
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	purchase := model.Purchase{ID: "P1", OfferID: "O1", BuyerID: "B1"}
	transport := model.Transport{ID: "T1", PurchaseID: "P1", CarrierID: "C1"}
	steps := []model.Command{
		command("O1", model.KindOffer, model.OpCreate, offer("O1", "S1")),
		command("O1", model.KindOffer, model.OpUpdate, offer("O1", "S1")),
		command("O1", model.KindPurchase, model.OpCreate, purchase),
		command("O1", model.KindPurchase, model.OpUpdate, model.Purchase{ID: "P1", OfferID: "O1", BuyerID: "B1", Amount: 900}),
		command("O1", model.KindTransport, model.OpCreate, transport),
		command("O1", model.KindTransport, model.OpUpdate, model.Transport{ID: "T1", PurchaseID: "P1", CarrierID: "C1", Status: "scheduled"}),
		command("S1", model.KindSeller, model.OpCreate, model.Seller{SellerID: "S1", Name: "Acme"}),
		command("S1", model.KindSeller, model.OpUpdate, model.Seller{SellerID: "S1", Name: "Acme Motors"}),
		command("B1", model.KindBuyer, model.OpCreate, model.Buyer{ID: "B1", Name: "Jane"}),
		command("B1", model.KindBuyer, model.OpUpdate, model.Buyer{ID: "B1", Name: "Jane Doe"}),
		command("C1", model.KindCarrier, model.OpCreate, model.Carrier{ID: "C1", Name: "Haul Co"}),
		command("C1", model.KindCarrier, model.OpUpdate, model.Carrier{ID: "C1", Name: "Haul Co Ltd"}),
		command("S1", model.KindSeller, model.OpDelete, map[string]any{"sellerId": "S1"}),
		command("B1", model.KindBuyer, model.OpDelete, map[string]any{"id": "B1"}),
		command("C1", model.KindCarrier, model.OpDelete, map[string]any{"id": "C1"}),
		command("O1", model.KindTransport, model.OpDelete, map[string]any{"id": "T1"}),
		command("O1", model.KindPurchase, model.OpDelete, map[string]any{"id": "P1"}),
		command("O1", model.KindOffer, model.OpDelete, map[string]any{"offerId": "O1"}),
	}
	snapshot := func() *model.OfferDocument {
		doc, err := f.store.Get(context.Background(), "O1")
		if errors.Is(err, docstore.ErrNotFound) {
			return nil
		}
		require.NoError(t, err)
		return doc
	}
	for _, cmd := range steps {
		name := fmt.Sprintf("%s %s", cmd.EntityKind, cmd.Operation)
		f.apply(t, cmd)
		first := snapshot()
		f.apply(t, cmd)
		second := snapshot()
		if first == nil || second == nil {
			assert.Equal(t, first == nil, second == nil, "second application of %s changed document presence", name)
			continue
		}
		assert.True(t, first.Equal(second), "second application of %s changed the document", name)
	}
	assert.Zero(t, f.store.Len())
}

func TestOfferDelete(t *testing.T) {
	f := newFixture(t)
	f.apply(t, command("O1", model.KindOffer, model.OpCreate, offer("O1", "S1")))
	f.apply(t, command("O1", model.KindOffer, model.OpDelete, map[string]any{"offerId": "O1"}))
	_, err := f.store.Get(context.Background(), "O1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	f.apply(t, command("O1", model.KindOffer, model.OpDelete, nil))
}

func TestMalformedCommands(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		cmd  model.Command
	}{
		{name: "unknown kind", cmd: model.Command{DocumentID: "D1", EntityKind: "invoice", Operation: model.OpCreate}},
		{name: "unknown operation", cmd: model.Command{DocumentID: "D1", EntityKind: model.KindOffer, Operation: "upsert"}},
		{name: "missing document id", cmd: command("", model.KindOffer, model.OpCreate, offer("O1", "S1"))},
		{name: "payload not an object", cmd: model.Command{DocumentID: "D1", EntityKind: model.KindOffer, Operation: model.OpCreate, Payload: json.RawMessage(`[1,2]`)}},
		{name: "offer without id", cmd: command("D1", model.KindOffer, model.OpCreate, map[string]any{"vin": "X"})},
		{name: "purchase without offer", cmd: command("D1", model.KindPurchase, model.OpCreate, map[string]any{"id": "P1"})},
		{name: "transport delete without id", cmd: command("D1", model.KindTransport, model.OpDelete, map[string]any{})},
		{name: "empty buyer payload", cmd: model.Command{DocumentID: "D1", EntityKind: model.KindBuyer, Operation: model.OpUpdate}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.sync.Apply(context.Background(), tc.cmd)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}

	err := f.sync.ApplyRaw(context.Background(), []byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformed)
}

// failingStore fails writes on demand.
type failingStore struct {
	*docstore.Memory
	upsertErr error
}

func (s *failingStore) Upsert(ctx context.Context, doc *model.OfferDocument) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.Memory.Upsert(ctx, doc)
}

func TestStoreFailurePropagates(t *testing.T) {
	boom := errors.New("store unavailable")
	store := &failingStore{Memory: docstore.NewMemory(), upsertErr: boom}
	s := New(store, entitydata.NewStatic())

	err := s.Apply(context.Background(), command("O1", model.KindOffer, model.OpCreate, offer("O1", "S1")))
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrMalformed)
}

func TestProviderFailurePropagates(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("provider down")
	f.provider.FailWith(boom)

	err := f.sync.Apply(context.Background(), command("O1", model.KindOffer, model.OpCreate, offer("O1", "S1")))
	require.ErrorIs(t, err, boom)
	assert.Zero(t, f.store.Len())
}

// cancelingStore cancels the caller's context as soon as a write starts.
type cancelingStore struct {
	*docstore.Memory
	cancel    context.CancelFunc
	writeErrs []error
}

func (s *cancelingStore) Upsert(ctx context.Context, doc *model.OfferDocument) error {
	s.cancel()
	s.writeErrs = append(s.writeErrs, ctx.Err())
	return s.Memory.Upsert(ctx, doc)
}

func TestWritesSurviveCancellationOnceIssued(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &cancelingStore{Memory: docstore.NewMemory(), cancel: cancel}
	s := New(store, entitydata.NewStatic())

	require.NoError(t, s.Apply(ctx, command("O1", model.KindOffer, model.OpCreate, offer("O1", "S1"))))
	require.Equal(t, []error{nil}, store.writeErrs)
	assert.Equal(t, 1, store.Len())

	err := s.Apply(ctx, command("O2", model.KindOffer, model.OpCreate, offer("O2", "S1")))
	assert.ErrorIs(t, err, context.Canceled, "no new writes start after cancellation")
}
