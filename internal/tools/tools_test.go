package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/servicedesk_bot/backend/internal/config"
	"github.com/servicedesk_bot/backend/internal/draft"
	"github.com/servicedesk_bot/backend/internal/geocode"
	"github.com/servicedesk_bot/backend/internal/kv"
	"github.com/servicedesk_bot/backend/internal/models"
	"github.com/servicedesk_bot/backend/internal/onec"
	"github.com/servicedesk_bot/backend/internal/throttle"
	"github.com/servicedesk_bot/backend/internal/zone"
)

type fakeGeocoder struct {
	res geocode.Result
	err error
}

func (f fakeGeocoder) Geocode(ctx context.Context, address string) (geocode.Result, error) {
	return f.res, f.err
}

func (f fakeGeocoder) Reverse(ctx context.Context, lat, lon float64) (geocode.Result, error) {
	return f.res, f.err
}

type fakeBackend struct {
	mu        sync.Mutex
	createErr error
	lookupErr error
	tickets   []models.ExistingTicket
	created   []onec.Order
	modified  []onec.Revision
	comments  []string
}

func (f *fakeBackend) Create(ctx context.Context, o onec.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, o)
	return nil
}

func (f *fakeBackend) Lookup(ctx context.Context, partner string) ([]models.ExistingTicket, error) {
	return f.tickets, f.lookupErr
}

func (f *fakeBackend) ReadForModification(ctx context.Context, number string) (onec.Revision, error) {
	return onec.Revision{Number: number, Revision: 3, Locality: "Москва"}, nil
}

func (f *fakeBackend) Modify(ctx context.Context, rev onec.Revision, comment, phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modified = append(f.modified, rev)
	f.comments = append(f.comments, comment)
	return nil
}

var moscow = geocode.Result{Lat: 55.757620, Lon: 37.611347, DisplayName: "Москва, Тверская улица, 1"}

type fixture struct {
	deps     *Deps
	registry *Registry
	backend  *fakeBackend
}

func newFixture(t *testing.T, backend Backend, geo Geocoder) *fixture {
	t.Helper()
	db, err := kv.OpenInMemory()
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	catalog := config.StaticCatalog(config.DefaultCatalog())
	deps := &Deps{
		Drafts:   draft.NewStore(db, catalog, zerolog.Nop()),
		Geocoder: geo,
		Zones:    zone.NewClassifier(catalog),
		Backend:  backend,
		Limiter:  throttle.New(db, zerolog.Nop()),
		Catalog:  catalog,
		DailyCap: 3,
		Logger:   zerolog.Nop(),
	}
	f := &fixture{deps: deps, registry: New(deps)}
	if fb, isFake := backend.(*fakeBackend); isFake {
		f.backend = fb
	}
	return f
}

func (f *fixture) call(t *testing.T, chatID int64, name string, args any) Result {
	t.Helper()
	raw, _ := json.Marshal(args)
	res, err := f.registry.Invoke(context.Background(), chatID, name, raw)
	if err != nil {
		t.Fatalf("%s: unexpected error %v", name, err)
	}
	return res
}

func (f *fixture) fillDraft(t *testing.T, chatID int64) {
	t.Helper()
	steps := []struct {
		tool string
		args any
	}{
		{SaveDirection, map[string]string{"direction": "Холодильники"}},
		{SavePhone, map[string]string{"phone": "79161234567"}},
		{SaveAddress, map[string]string{"address": "Москва, Тверская, 1"}},
		{SaveDate, map[string]string{"date": "2024-06-01T00:00Z"}},
	}
	for _, s := range steps {
		if res := f.call(t, chatID, s.tool, s.args); res.Failed {
			t.Fatalf("%s failed: %s", s.tool, res.Text)
		}
	}
}

func TestSpecsCoverEveryTool(t *testing.T) {
	f := newFixture(t, &fakeBackend{}, fakeGeocoder{res: moscow})
	want := []string{
		SaveName, SaveDirection, SaveCircumstances, SaveBrand, SavePhone, SaveAddressLine2, SaveDate,
		SaveComment, SaveAddress, SaveGPS, CreateRequest, RequestSelection, ModifyRequest,
	}
	specs := f.registry.Specs()
	if len(specs) != len(want) {
		t.Fatalf("got %d specs, want %d", len(specs), len(want))
	}
	for i, name := range want {
		if specs[i].Name != name {
			t.Fatalf("spec %d = %s, want %s", i, specs[i].Name, name)
		}
		if specs[i].Parameters["type"] != "object" {
			t.Fatalf("spec %s has no object schema", name)
		}
	}
}

func TestCreateRequestRoundTrip(t *testing.T) {
	var created onec.OrderParams
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/hs":
			var body struct {
				Params onec.OrderParams `json:"params"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			created = body.Params
			w.WriteHeader(http.StatusOK)
		case "/ws":
			_, _ = w.Write([]byte(`{"result":{"main":[{"id":"42","date":"2024-06-01","division":"Москва"}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	backend := onec.NewClient(onec.Config{ProxyURL: srv.URL, Timeout: time.Second}, 0, zerolog.Nop())
	f := newFixture(t, backend, fakeGeocoder{res: moscow})
	f.fillDraft(t, 100)

	res := f.call(t, 100, CreateRequest, map[string]any{})
	if res.Failed || !strings.Contains(res.Text, "42") {
		t.Fatalf("unexpected result %+v", res)
	}
	if created.Order.Services[0].ServiceID != "Холодильники" || created.Order.Client.Phone != "79161234567" ||
		created.Order.DesiredDT != "2024-06-01T00:00Z" || created.Order.Client.DisplayName != onec.DefaultClientName {
		t.Fatalf("unexpected payload %+v", created.Order)
	}
	d, err := f.deps.Drafts.Read(context.Background(), 100)
	if err != nil || !d.Empty() {
		t.Fatalf("draft not cleared: %+v %v", d.Values(), err)
	}
	meta, _ := f.deps.Drafts.Meta(context.Background(), 100)
	if len(meta.Tickets) != 1 || meta.Tickets[0].Number != "42" {
		t.Fatalf("ticket not remembered: %+v", meta)
	}
}

func TestCreateRequestNumberLookupFailureIsNotFatal(t *testing.T) {
	backend := &fakeBackend{lookupErr: errors.New("ws down")}
	f := newFixture(t, backend, fakeGeocoder{res: moscow})
	f.fillDraft(t, 101)
	res := f.call(t, 101, CreateRequest, nil)
	if res.Failed || res.Text != "Заявка была создана" {
		t.Fatalf("unexpected result %+v", res)
	}
	if d, _ := f.deps.Drafts.Read(context.Background(), 101); !d.Empty() {
		t.Fatalf("draft not cleared")
	}
}

func TestCreateRequestBackendFailurePropagates(t *testing.T) {
	backend := &fakeBackend{createErr: onec.ErrBackend}
	f := newFixture(t, backend, fakeGeocoder{res: moscow})
	f.fillDraft(t, 102)
	_, err := f.registry.Invoke(context.Background(), 102, CreateRequest, nil)
	if !errors.Is(err, onec.ErrBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if d, _ := f.deps.Drafts.Read(context.Background(), 102); d.Empty() {
		t.Fatalf("draft must survive a failed creation")
	}
	if n, _ := f.deps.Limiter.(*throttle.Throttle).Count(context.Background(), 102); n != 0 {
		t.Fatalf("slot not released, count=%d", n)
	}
}

func TestCreateRequestMissingFields(t *testing.T) {
	backend := &fakeBackend{}
	f := newFixture(t, backend, fakeGeocoder{res: moscow})
	f.call(t, 103, SavePhone, map[string]string{"phone": "79161234567"})
	res := f.call(t, 103, CreateRequest, nil)
	if !res.Failed || !strings.Contains(res.Text, "адрес") || !strings.Contains(res.Text, "направление") {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(backend.created) != 0 {
		t.Fatalf("nothing should be sent to the backend")
	}
}

func TestDailyCapReturnsBanSignal(t *testing.T) {
	backend := &fakeBackend{tickets: []models.ExistingTicket{{ID: "1"}}}
	f := newFixture(t, backend, fakeGeocoder{res: moscow})
	for i := 0; i < 3; i++ {
		f.fillDraft(t, 104)
		if res := f.call(t, 104, CreateRequest, nil); res.Failed {
			t.Fatalf("creation %d failed: %s", i+1, res.Text)
		}
	}
	f.fillDraft(t, 104)
	res := f.call(t, 104, CreateRequest, nil)
	if res.Signal != SignalBan {
		t.Fatalf("expected ban signal, got %+v", res)
	}
	if len(backend.created) != 3 {
		t.Fatalf("created %d tickets, want 3", len(backend.created))
	}
}

func TestInvalidDirectionIsRecoverable(t *testing.T) {
	f := newFixture(t, &fakeBackend{}, fakeGeocoder{res: moscow})
	res := f.call(t, 105, SaveDirection, map[string]string{"direction": "Пылесосы"})
	if !res.Failed || !strings.Contains(res.Text, "Холодильники") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestMissingArgumentIsRecoverable(t *testing.T) {
	f := newFixture(t, &fakeBackend{}, fakeGeocoder{res: moscow})
	res := f.call(t, 106, SavePhone, map[string]string{})
	if !res.Failed || !strings.Contains(res.Text, "phone") {
		t.Fatalf("unexpected result %+v", res)
	}
	res = f.call(t, 106, SavePhone, map[string]string{"phone": "abc123"})
	if !res.Failed {
		t.Fatalf("short phone must fail: %+v", res)
	}
}

func TestUnknownTool(t *testing.T) {
	f := newFixture(t, &fakeBackend{}, fakeGeocoder{res: moscow})
	res := f.call(t, 107, "drop_database", nil)
	if !res.Failed || !strings.Contains(res.Text, "save_name") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAddressZoneTiers(t *testing.T) {
	cases := []struct {
		name string
		res  geocode.Result
		want string
	}{
		{"in zone", moscow, "сохранен"},
		{"free dispatch exceeded", geocode.Result{Lat: 56.0, Lon: 38.6, DisplayName: "Московская область"}, "бесплатного выезда"},
		{"out of area", geocode.Result{Lat: 55.0084, Lon: 82.9357, DisplayName: "Новосибирск"}, "вне зоны"},
	}
	for _, c := range cases {
		f := newFixture(t, &fakeBackend{}, fakeGeocoder{res: c.res})
		res := f.call(t, 108, SaveAddress, map[string]string{"address": c.res.DisplayName})
		if !strings.Contains(res.Text, c.want) {
			t.Fatalf("%s: unexpected result %+v", c.name, res)
		}
	}
}

func TestGeocodeFailureAsksToResend(t *testing.T) {
	f := newFixture(t, &fakeBackend{}, fakeGeocoder{err: &geocode.GeocodeError{Op: "geocode"}})
	res := f.call(t, 109, SaveAddress, map[string]string{"address": "где-то"})
	if !res.Failed || res.Text != resendAddressText {
		t.Fatalf("unexpected result %+v", res)
	}
	if d, _ := f.deps.Drafts.Read(context.Background(), 109); !d.Empty() {
		t.Fatalf("nothing should be saved on geocode failure")
	}
}

func TestSaveGPSUsesReverseAddress(t *testing.T) {
	f := newFixture(t, &fakeBackend{}, fakeGeocoder{res: moscow})
	res := f.call(t, 110, SaveGPS, map[string]float64{"latitude": 55.7576, "longitude": 37.6113})
	if res.Failed {
		t.Fatalf("unexpected result %+v", res)
	}
	d, _ := f.deps.Drafts.Read(context.Background(), 110)
	if d.Address != moscow.DisplayName || d.Latitude != "55.757600" {
		t.Fatalf("unexpected draft %+v", d)
	}
}

func TestSaveAddressStoresNormalizedText(t *testing.T) {
	f := newFixture(t, &fakeBackend{}, fakeGeocoder{res: moscow})
	res := f.call(t, 112, SaveAddress, map[string]string{"address": "г. Москва,  ул. Тверская, д. 1"})
	if res.Failed || !strings.HasSuffix(res.Text, "Москва, Тверская, 1") {
		t.Fatalf("unexpected result %+v", res)
	}
	d, _ := f.deps.Drafts.Read(context.Background(), 112)
	if d.Address != "Москва, Тверская, 1" {
		t.Fatalf("stored address %q", d.Address)
	}
}

func TestSaveGPSAcceptsZeroCoordinate(t *testing.T) {
	f := newFixture(t, &fakeBackend{}, fakeGeocoder{res: geocode.Result{DisplayName: "Кения, Найроби"}})
	res := f.call(t, 113, SaveGPS, map[string]float64{"latitude": 0, "longitude": 37.6})
	if !strings.Contains(res.Text, "вне зоны") {
		t.Fatalf("zero latitude did not reach classification: %+v", res)
	}
	d, _ := f.deps.Drafts.Read(context.Background(), 113)
	if d.Latitude != "0.000000" || d.Longitude != "37.600000" {
		t.Fatalf("unexpected draft %+v", d)
	}

	res = f.call(t, 113, SaveGPS, map[string]float64{"latitude": 91, "longitude": 0})
	if !res.Failed || !strings.Contains(res.Text, "Ошибка в аргументах") {
		t.Fatalf("out of range latitude accepted: %+v", res)
	}
}

type stuckLimiter struct {
	Limiter
}

func (stuckLimiter) Release(ctx context.Context, chatID int64) error {
	return errors.New("badger closed")
}

func TestFailedReleaseIsLogged(t *testing.T) {
	backend := &fakeBackend{createErr: onec.ErrBackend}
	f := newFixture(t, backend, fakeGeocoder{res: moscow})
	var buf bytes.Buffer
	f.deps.Logger = zerolog.New(&buf)
	f.deps.Limiter = stuckLimiter{Limiter: f.deps.Limiter}
	f.fillDraft(t, 114)
	if _, err := f.registry.Invoke(context.Background(), 114, CreateRequest, nil); !errors.Is(err, onec.ErrBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if !strings.Contains(buf.String(), "release ticket slot failed") || !strings.Contains(buf.String(), "badger closed") {
		t.Fatalf("release failure not logged: %s", buf.String())
	}
}

func TestModifyRequest(t *testing.T) {
	backend := &fakeBackend{tickets: []models.ExistingTicket{{ID: "42", Date: "2024-06-01", Division: "Москва"}}}
	f := newFixture(t, backend, fakeGeocoder{res: moscow})
	f.fillDraft(t, 111)
	f.call(t, 111, CreateRequest, nil)

	res := f.call(t, 111, ModifyRequest, map[string]string{"number": "42", "field": "address", "value": "x"})
	if !res.Failed || !strings.Contains(res.Text, "comment") {
		t.Fatalf("unsupported field must be refused: %+v", res)
	}
	res = f.call(t, 111, ModifyRequest, map[string]string{"number": "99", "field": "comment", "value": "x"})
	if !res.Failed {
		t.Fatalf("foreign ticket must be refused: %+v", res)
	}
	res = f.call(t, 111, ModifyRequest, map[string]string{"number": "42", "field": "comment", "value": "позвонить за час, кв 5"})
	if res.Failed {
		t.Fatalf("modify failed: %+v", res)
	}
	if len(backend.modified) != 1 || backend.modified[0].Revision != 3 {
		t.Fatalf("unexpected modify calls %+v", backend.modified)
	}
	if strings.Contains(backend.comments[0], "кв 5") {
		t.Fatalf("comment not scrubbed: %q", backend.comments[0])
	}
}

func TestRequestSelectionListsTickets(t *testing.T) {
	backend := &fakeBackend{}
	f := newFixture(t, backend, fakeGeocoder{res: moscow})
	if res := f.call(t, 112, RequestSelection, nil); !res.Failed {
		t.Fatalf("expected no tickets: %+v", res)
	}
	f.fillDraft(t, 112)
	f.call(t, 112, CreateRequest, nil)

	backend.tickets = []models.ExistingTicket{{ID: "77", Date: "2024-06-01", Division: "Москва"}}
	res := f.call(t, 112, RequestSelection, nil)
	if res.Failed || !strings.Contains(res.Text, "77") {
		t.Fatalf("unexpected result %+v", res)
	}
	meta, _ := f.deps.Drafts.Meta(context.Background(), 112)
	if meta.Tickets[0].Number != "77" {
		t.Fatalf("number not resolved into meta: %+v", meta)
	}
}
