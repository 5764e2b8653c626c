package onboarding

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sortify-app/sortify-api/internal/businesstype"
	"github.com/sortify-app/sortify-api/internal/logging"
	"github.com/sortify-app/sortify-api/internal/metrics"
)

type fakeProgressStore struct {
	records map[uuid.UUID]*Progress
}

func newFakeProgressStore() *fakeProgressStore {
	return &fakeProgressStore{records: make(map[uuid.UUID]*Progress)}
}

func (f *fakeProgressStore) Get(_ context.Context, userID uuid.UUID) (*Progress, error) {
	if p, ok := f.records[userID]; ok {
		clone := *p
		return &clone, nil
	}
	return &Progress{UserID: userID}, nil
}

func (f *fakeProgressStore) Update(_ context.Context, userID uuid.UUID, fn func(p *Progress) error) (*Progress, error) {
	p, ok := f.records[userID]
	if !ok {
		p = &Progress{UserID: userID}
	}
	clone := *p
	if err := fn(&clone); err != nil {
		return nil, err
	}
	f.records[userID] = &clone
	return &clone, nil
}

type fakeConnections struct {
	connected bool
}

func (f *fakeConnections) HasActiveConnection(context.Context, uuid.UUID) (bool, error) {
	return f.connected, nil
}

type fakeBusinessTypes struct {
	types map[int64]*businesstype.BusinessType
}

func (f *fakeBusinessTypes) GetByID(_ context.Context, id int64) (*businesstype.BusinessType, error) {
	if bt, ok := f.types[id]; ok {
		return bt, nil
	}
	return nil, businesstype.ErrNotFound
}

type fakeUserFlags struct {
	completedCalls int
}

func (f *fakeUserFlags) MarkOnboardingCompleted(context.Context, uuid.UUID) error {
	f.completedCalls++
	return nil
}

type serviceFixture struct {
	service     *Service
	store       *fakeProgressStore
	connections *fakeConnections
	users       *fakeUserFlags
	userID      uuid.UUID
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	store := newFakeProgressStore()
	connections := &fakeConnections{}
	users := &fakeUserFlags{}
	businessTypes := &fakeBusinessTypes{
		types: map[int64]*businesstype.BusinessType{
			1: {ID: 1, Name: "E-commerce", DefaultCategories: []string{"Orders", "Returns", "Shipping"}},
			2: {ID: 2, Name: "Agency", DefaultCategories: []string{"Clients", "Invoices"}},
		},
	}

	svc := NewService(
		store,
		connections,
		businessTypes,
		users,
		logging.NewLogger(true),
		metrics.NewCollector(prometheus.NewRegistry()),
	)

	return &serviceFixture{
		service:     svc,
		store:       store,
		connections: connections,
		users:       users,
		userID:      uuid.New(),
	}
}

func (fx *serviceFixture) complete(t *testing.T, step Step, payload string) *Status {
	t.Helper()
	status, err := fx.service.CompleteStep(context.Background(), fx.userID, step, []byte(payload))
	if err != nil {
		t.Fatalf("CompleteStep(%s) returned error: %v", step, err)
	}
	return status
}

func TestNewUserStartsAtWelcome(t *testing.T) {
	fx := newServiceFixture(t)

	status, err := fx.service.Status(context.Background(), fx.userID)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status.NextStep != StepWelcome {
		t.Errorf("NextStep = %s, want %s", status.NextStep, StepWelcome)
	}
	if len(status.CompletedSteps) != 0 {
		t.Errorf("CompletedSteps = %v, want empty", status.CompletedSteps)
	}
}

func TestCompleteStepOutOfOrder(t *testing.T) {
	fx := newServiceFixture(t)

	_, err := fx.service.CompleteStep(context.Background(), fx.userID, StepBusinessType, []byte(`{"businessTypeId": 1}`))
	if !errors.Is(err, ErrStepOutOfOrder) {
		t.Errorf("error = %v, want ErrStepOutOfOrder", err)
	}
}

func TestWelcomeThenBusinessTypeProgression(t *testing.T) {
	fx := newServiceFixture(t)

	status := fx.complete(t, StepWelcome, "")
	if status.NextStep != StepBusinessType {
		t.Errorf("NextStep after welcome = %s, want %s", status.NextStep, StepBusinessType)
	}

	status = fx.complete(t, StepBusinessType, `{"businessTypeId": 1}`)
	if status.NextStep != StepEmailProvider {
		t.Errorf("NextStep after business-type = %s, want %s", status.NextStep, StepEmailProvider)
	}
	if status.BusinessTypeID == nil || *status.BusinessTypeID != 1 {
		t.Errorf("BusinessTypeID = %v, want 1", status.BusinessTypeID)
	}
}

func TestBusinessTypeSeedsDefaultCategories(t *testing.T) {
	fx := newServiceFixture(t)
	fx.complete(t, StepWelcome, "")

	status := fx.complete(t, StepBusinessType, `{"businessTypeId": 1}`)

	fragment, ok := status.Settings[string(StepBusinessType)].(map[string]any)
	if !ok {
		t.Fatalf("settings fragment missing: %v", status.Settings)
	}
	categories, ok := fragment["categories"].([]any)
	if !ok || len(categories) != 3 {
		t.Fatalf("categories = %v, want the 3 e-commerce defaults", fragment["categories"])
	}
	if categories[0] != "Orders" {
		t.Errorf("categories[0] = %v, want Orders", categories[0])
	}
}

func TestReselectingBusinessTypeReseedsWithoutDuplicateMarker(t *testing.T) {
	fx := newServiceFixture(t)
	fx.complete(t, StepWelcome, "")
	fx.complete(t, StepBusinessType, `{"businessTypeId": 1}`)

	status := fx.complete(t, StepBusinessType, `{"businessTypeId": 2}`)

	markers := 0
	for _, s := range status.CompletedSteps {
		if s == StepBusinessType {
			markers++
		}
	}
	if markers != 1 {
		t.Errorf("business-type completion markers = %d, want 1", markers)
	}
	if *status.BusinessTypeID != 2 {
		t.Errorf("BusinessTypeID = %d, want 2", *status.BusinessTypeID)
	}

	fragment := status.Settings[string(StepBusinessType)].(map[string]any)
	categories := fragment["categories"].([]any)
	if len(categories) != 2 || categories[0] != "Clients" {
		t.Errorf("categories = %v, want the agency defaults", categories)
	}
}

func TestUnknownBusinessType(t *testing.T) {
	fx := newServiceFixture(t)
	fx.complete(t, StepWelcome, "")

	_, err := fx.service.CompleteStep(context.Background(), fx.userID, StepBusinessType, []byte(`{"businessTypeId": 99}`))
	if !errors.Is(err, ErrBusinessTypeNotFound) {
		t.Errorf("error = %v, want ErrBusinessTypeNotFound", err)
	}
}

func TestLabelMappingBlockedWithoutConnection(t *testing.T) {
	fx := newServiceFixture(t)
	fx.complete(t, StepWelcome, "")
	fx.complete(t, StepBusinessType, `{"businessTypeId": 1}`)

	_, err := fx.service.CompleteStep(context.Background(), fx.userID, StepLabelMapping, []byte(`{"mappings": {"Orders": "sortify/orders"}}`))
	if !errors.Is(err, ErrStepOutOfOrder) {
		t.Errorf("error = %v, want ErrStepOutOfOrder", err)
	}
}

func TestEmailProviderCompletionIsDerivedFromConnection(t *testing.T) {
	fx := newServiceFixture(t)
	fx.complete(t, StepWelcome, "")
	fx.complete(t, StepBusinessType, `{"businessTypeId": 1}`)

	fx.connections.connected = true

	status, err := fx.service.Status(context.Background(), fx.userID)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status.NextStep != StepLabelMapping {
		t.Errorf("NextStep = %s, want %s", status.NextStep, StepLabelMapping)
	}
	if !status.EmailProviderConnected {
		t.Error("EmailProviderConnected = false, want true")
	}

	// Derived completion never shows up as a stored marker.
	for _, s := range status.CompletedSteps {
		if s == StepEmailProvider {
			t.Error("email-provider has a stored completion marker")
		}
	}
}

func TestDisconnectReopensEmailProviderStep(t *testing.T) {
	fx := newServiceFixture(t)
	fx.complete(t, StepWelcome, "")
	fx.complete(t, StepBusinessType, `{"businessTypeId": 1}`)
	fx.connections.connected = true
	fx.complete(t, StepLabelMapping, `{"mappings": {"Orders": "sortify/orders"}}`)

	fx.connections.connected = false

	status, err := fx.service.Status(context.Background(), fx.userID)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status.NextStep != StepEmailProvider {
		t.Errorf("NextStep after disconnect = %s, want %s", status.NextStep, StepEmailProvider)
	}
}

func TestSkippedProviderDefersLabelMapping(t *testing.T) {
	fx := newServiceFixture(t)
	fx.complete(t, StepWelcome, "")
	fx.complete(t, StepBusinessType, `{"businessTypeId": 1}`)

	status, err := fx.service.SkipStep(context.Background(), fx.userID, StepEmailProvider)
	if err != nil {
		t.Fatalf("SkipStep returned error: %v", err)
	}

	// label-mapping has nothing to map without a connection, so the
	// wizard moves past it.
	if status.NextStep != StepTeamNotifications {
		t.Errorf("NextStep = %s, want %s", status.NextStep, StepTeamNotifications)
	}

	// The skip defers the gate, it does not open it.
	_, err = fx.service.CompleteStep(context.Background(), fx.userID, StepLabelMapping, []byte(`{"mappings": {"Orders": "x"}}`))
	if !errors.Is(err, ErrStepOutOfOrder) {
		t.Errorf("label-mapping error = %v, want ErrStepOutOfOrder", err)
	}
}

func TestSkipNonSkippableStep(t *testing.T) {
	fx := newServiceFixture(t)

	_, err := fx.service.SkipStep(context.Background(), fx.userID, StepWelcome)
	if !errors.Is(err, ErrStepNotSkippable) {
		t.Errorf("error = %v, want ErrStepNotSkippable", err)
	}
}

func TestEmailProviderCannotBeCompletedDirectly(t *testing.T) {
	fx := newServiceFixture(t)

	_, err := fx.service.CompleteStep(context.Background(), fx.userID, StepEmailProvider, nil)
	if !errors.Is(err, ErrStepNotCompletable) {
		t.Errorf("error = %v, want ErrStepNotCompletable", err)
	}
}

func TestStepCompletionIsIdempotent(t *testing.T) {
	fx := newServiceFixture(t)
	fx.complete(t, StepWelcome, "")
	fx.complete(t, StepBusinessType, `{"businessTypeId": 1}`)
	fx.connections.connected = true

	fx.complete(t, StepLabelMapping, `{"mappings": {"Orders": "sortify/orders"}}`)
	status := fx.complete(t, StepLabelMapping, `{"mappings": {"Returns": "sortify/returns"}}`)

	markers := 0
	for _, s := range status.CompletedSteps {
		if s == StepLabelMapping {
			markers++
		}
	}
	if markers != 1 {
		t.Errorf("label-mapping markers = %d, want 1", markers)
	}

	// Re-completion overwrites the fragment, it does not merge keys.
	fragment := status.Settings[string(StepLabelMapping)].(map[string]any)
	mappings := fragment["mappings"].(map[string]any)
	if _, stale := mappings["Orders"]; stale {
		t.Error("old mapping survived a re-completion")
	}
	if mappings["Returns"] != "sortify/returns" {
		t.Errorf("mappings = %v", mappings)
	}

	// Completion order is stable across re-completions.
	want := []Step{StepWelcome, StepBusinessType, StepLabelMapping}
	for i, s := range want {
		if status.CompletedSteps[i] != s {
			t.Fatalf("CompletedSteps = %v, want %v", status.CompletedSteps, want)
		}
	}
}

func TestFullRunMarksOnboardingCompleted(t *testing.T) {
	fx := newServiceFixture(t)
	fx.complete(t, StepWelcome, "")
	fx.complete(t, StepBusinessType, `{"businessTypeId": 1}`)
	fx.connections.connected = true
	fx.complete(t, StepLabelMapping, `{"mappings": {"Orders": "sortify/orders"}}`)
	fx.complete(t, StepTeamNotifications, `{"recipients": ["ops@example.com"]}`)

	status := fx.complete(t, StepReview, `{"confirmed": true}`)
	if status.NextStep != StepComplete {
		t.Errorf("NextStep = %s, want %s", status.NextStep, StepComplete)
	}
	if fx.users.completedCalls == 0 {
		t.Error("onboarding completed flag was never flipped")
	}
}

func TestStatusNeverMutates(t *testing.T) {
	fx := newServiceFixture(t)
	fx.complete(t, StepWelcome, "")
	fx.complete(t, StepBusinessType, `{"businessTypeId": 1}`)
	fx.connections.connected = true
	fx.complete(t, StepLabelMapping, `{"mappings": {"Orders": "sortify/orders"}}`)
	fx.complete(t, StepTeamNotifications, `{"recipients": ["ops@example.com"]}`)
	fx.complete(t, StepReview, `{"confirmed": true}`)

	calls := fx.users.completedCalls
	for i := 0; i < 3; i++ {
		if _, err := fx.service.Status(context.Background(), fx.userID); err != nil {
			t.Fatalf("Status: %v", err)
		}
	}
	if fx.users.completedCalls != calls {
		t.Errorf("Status flipped the completed flag: %d calls, want %d", fx.users.completedCalls, calls)
	}
}

func TestSkippedRunReachesComplete(t *testing.T) {
	fx := newServiceFixture(t)
	fx.complete(t, StepWelcome, "")
	fx.complete(t, StepBusinessType, `{"businessTypeId": 1}`)

	if _, err := fx.service.SkipStep(context.Background(), fx.userID, StepEmailProvider); err != nil {
		t.Fatalf("skip email-provider: %v", err)
	}
	if _, err := fx.service.SkipStep(context.Background(), fx.userID, StepTeamNotifications); err != nil {
		t.Fatalf("skip team-notifications: %v", err)
	}

	status := fx.complete(t, StepReview, `{"confirmed": true}`)
	if status.NextStep != StepComplete {
		t.Errorf("NextStep = %s, want %s", status.NextStep, StepComplete)
	}
}

func TestInvalidPayloads(t *testing.T) {
	fx := newServiceFixture(t)
	fx.complete(t, StepWelcome, "")
	fx.complete(t, StepBusinessType, `{"businessTypeId": 1}`)
	fx.connections.connected = true
	fx.complete(t, StepLabelMapping, `{"mappings": {"Orders": "sortify/orders"}}`)

	tests := []struct {
		name    string
		step    Step
		payload string
	}{
		{"empty mappings", StepLabelMapping, `{"mappings": {}}`},
		{"bad recipient", StepTeamNotifications, `{"recipients": ["not-an-email"]}`},
		{"no recipients", StepTeamNotifications, `{"recipients": []}`},
		{"unconfirmed review", StepReview, `{"confirmed": false}`},
		{"malformed json", StepTeamNotifications, `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.service.CompleteStep(context.Background(), fx.userID, tt.step, []byte(tt.payload))
			if !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("error = %v, want ErrInvalidPayload", err)
			}
		})
	}
}
