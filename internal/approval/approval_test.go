package approval

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/boshu2/ambient/internal/ambtypes"
	"github.com/boshu2/ambient/internal/risk"
)

func testProposal(t *testing.T) ambtypes.Proposal {
	t.Helper()
	p, err := ambtypes.NewProposal("agent", "title", "desc", "diff", ambtypes.RiskLow, "rationale", nil, 1, nil)
	if err != nil {
		t.Fatalf("NewProposal: %v", err)
	}
	return p
}

func TestAlwaysApproveApproves(t *testing.T) {
	d, err := AlwaysApprove{}.Decide(context.Background(), testProposal(t), risk.Evaluation{})
	if err != nil || !d.Approved {
		t.Fatalf("expected approval, got %+v, err=%v", d, err)
	}
}

func TestAlwaysRejectRejects(t *testing.T) {
	d, err := AlwaysReject{}.Decide(context.Background(), testProposal(t), risk.Evaluation{})
	if err != nil || d.Approved {
		t.Fatalf("expected rejection, got %+v, err=%v", d, err)
	}
}

func TestWebhookApprovesOn200WithApprovedTrue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"approved":true,"reason":"looks fine"}`))
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	d, err := w.Decide(context.Background(), testProposal(t), risk.Evaluation{})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Approved {
		t.Fatalf("expected approval, got %+v", d)
	}
}

func TestWebhookFailsClosedOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	d, err := w.Decide(context.Background(), testProposal(t), risk.Evaluation{})
	if err != nil {
		t.Fatalf("Decide should not error, got %v", err)
	}
	if d.Approved {
		t.Fatalf("expected fail-closed rejection on 500, got %+v", d)
	}
}

func TestWebhookFailsClosedOnUnparseableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	d, err := w.Decide(context.Background(), testProposal(t), risk.Evaluation{})
	if err != nil {
		t.Fatalf("Decide should not error, got %v", err)
	}
	if d.Approved {
		t.Fatalf("expected fail-closed rejection on unparseable body")
	}
}

func TestWebhookFailsClosedOnUnreachableHost(t *testing.T) {
	w := NewWebhook("http://127.0.0.1:1")
	d, err := w.Decide(context.Background(), testProposal(t), risk.Evaluation{})
	if err != nil {
		t.Fatalf("Decide should not error, got %v", err)
	}
	if d.Approved {
		t.Fatalf("expected fail-closed rejection on unreachable host")
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	if _, err := New("bogus", ""); err == nil {
		t.Fatalf("expected error for unknown handler kind")
	}
}
