package handlers

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/models"
	"github.com/MacJediWizard/seatbroker/internal/seats"
)

func TestSync(t *testing.T) {
	t.Run("start all", func(t *testing.T) {
		broker := &mockBroker{jobStatus: seats.JobStatus{Name: "member_sync", Running: true}}
		r := setupTestRouter(NewSyncHandler(broker, zerolog.Nop()))

		w := doRequest(t, r, "POST", "/api/v1/sync", nil)
		expectStatus(t, w, http.StatusAccepted)
		if broker.started != 1 {
			t.Fatalf("expected one start, got %d", broker.started)
		}
	})

	t.Run("start while running", func(t *testing.T) {
		r := setupTestRouter(NewSyncHandler(&mockBroker{startErr: seats.ErrJobRunning}, zerolog.Nop()))
		w := doRequest(t, r, "POST", "/api/v1/sync", nil)
		expectStatus(t, w, http.StatusConflict)
	})

	t.Run("status", func(t *testing.T) {
		r := setupTestRouter(NewSyncHandler(&mockBroker{jobStatus: seats.JobStatus{Total: 3, Completed: 3}}, zerolog.Nop()))
		w := doRequest(t, r, "GET", "/api/v1/sync/status", nil)
		expectStatus(t, w, http.StatusOK)

		var st seats.JobStatus
		decode(t, w, &st)
		if st.Total != 3 || st.Completed != 3 {
			t.Fatalf("unexpected status: %+v", st)
		}
	})

	t.Run("one account", func(t *testing.T) {
		id := uuid.New()
		broker := &mockBroker{syncResult: &seats.SyncResult{RemoteMembers: 4, Created: 1, Occupancy: 4}}
		r := setupTestRouter(NewSyncHandler(broker, zerolog.Nop()))

		w := doRequest(t, r, "POST", "/api/v1/sync/accounts/"+id.String(), nil)
		expectStatus(t, w, http.StatusOK)

		var res seats.SyncResult
		decode(t, w, &res)
		if res.AccountID != id || res.Created != 1 {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("invalid account id", func(t *testing.T) {
		r := setupTestRouter(NewSyncHandler(&mockBroker{}, zerolog.Nop()))
		w := doRequest(t, r, "POST", "/api/v1/sync/accounts/not-a-uuid", nil)
		expectStatus(t, w, http.StatusBadRequest)
	})

	t.Run("unknown account", func(t *testing.T) {
		broker := &mockBroker{syncErr: fmt.Errorf("get account: %w", models.ErrNotFound)}
		r := setupTestRouter(NewSyncHandler(broker, zerolog.Nop()))
		w := doRequest(t, r, "POST", "/api/v1/sync/accounts/"+uuid.NewString(), nil)
		expectStatus(t, w, http.StatusNotFound)
	})
}

func TestSeats(t *testing.T) {
	now := time.Now()
	expires := now.Add(24 * time.Hour)
	accountID := uuid.New()
	active := models.NewSeatRecord(accountID, "alice@example.com", &expires, now)
	manual := models.NewSeatRecord(accountID, "carol@example.com", nil, now)

	t.Run("by subject", func(t *testing.T) {
		broker := &mockBroker{views: []seats.SeatView{{SeatRecord: active, Status: seats.StatusPending}}}
		r := setupTestRouter(NewSeatsHandler(broker, zerolog.Nop()))

		w := doRequest(t, r, "GET", "/api/v1/seats?subject=alice@example.com", nil)
		expectStatus(t, w, http.StatusOK)

		var resp struct {
			Seats []map[string]any `json:"seats"`
		}
		decode(t, w, &resp)
		if len(resp.Seats) != 1 {
			t.Fatalf("expected 1 seat, got %d", len(resp.Seats))
		}
		if resp.Seats[0]["status"] != string(seats.StatusPending) || resp.Seats[0]["subject"] != "alice@example.com" {
			t.Fatalf("unexpected seat view: %v", resp.Seats[0])
		}
	})

	t.Run("subject required", func(t *testing.T) {
		r := setupTestRouter(NewSeatsHandler(&mockBroker{}, zerolog.Nop()))
		w := doRequest(t, r, "GET", "/api/v1/seats?subject=%20", nil)
		expectStatus(t, w, http.StatusBadRequest)
	})

	t.Run("manual", func(t *testing.T) {
		r := setupTestRouter(NewSeatsHandler(&mockBroker{manual: []*models.SeatRecord{manual}}, zerolog.Nop()))
		w := doRequest(t, r, "GET", "/api/v1/seats/manual", nil)
		expectStatus(t, w, http.StatusOK)

		var resp struct {
			Seats []*models.SeatRecord `json:"seats"`
		}
		decode(t, w, &resp)
		if len(resp.Seats) != 1 || resp.Seats[0].ExpiresAt != nil {
			t.Fatalf("unexpected manual seats: %+v", resp.Seats)
		}
	})

	t.Run("set expiry", func(t *testing.T) {
		resolved := manual.Clone()
		resolved.ExpiresAt = &expires
		r := setupTestRouter(NewSeatsHandler(&mockBroker{resolved: resolved}, zerolog.Nop()))

		w := doRequest(t, r, "PUT", "/api/v1/seats/"+manual.ID.String()+"/expiry", models.SetExpiryRequest{Days: 30})
		expectStatus(t, w, http.StatusOK)

		var rec models.SeatRecord
		decode(t, w, &rec)
		if rec.ExpiresAt == nil {
			t.Fatal("expected an expiry")
		}
	})

	t.Run("set expiry errors", func(t *testing.T) {
		tests := []struct {
			name string
			path string
			body any
			err  error
			want int
		}{
			{"bad id", "/api/v1/seats/nope/expiry", models.SetExpiryRequest{Days: 30}, nil, http.StatusBadRequest},
			{"zero days", "/api/v1/seats/" + manual.ID.String() + "/expiry", map[string]int{"days": 0}, nil, http.StatusBadRequest},
			{"already set", "/api/v1/seats/" + manual.ID.String() + "/expiry", models.SetExpiryRequest{Days: 30}, seats.ErrExpiryAlreadySet, http.StatusConflict},
			{"missing", "/api/v1/seats/" + manual.ID.String() + "/expiry", models.SetExpiryRequest{Days: 30}, seats.ErrRecordNotFound, http.StatusNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				r := setupTestRouter(NewSeatsHandler(&mockBroker{resolveErr: tt.err}, zerolog.Nop()))
				w := doRequest(t, r, "PUT", tt.path, tt.body)
				expectStatus(t, w, tt.want)
			})
		}
	})
}
