package nodestack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestClaimOnce(t *testing.T) {
	ns := New(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), nil)

	release, ok := ns.Claim()
	if !ok {
		t.Fatal("first Claim should claim the response")
	}
	if !ns.Claimed() {
		t.Error("Claimed = false after Claim")
	}
	if _, ok := ns.Claim(); ok {
		t.Error("second Claim should not claim the response")
	}

	select {
	case <-ns.Done():
		t.Fatal("Done closed before release")
	default:
	}

	release()
	release()

	select {
	case <-ns.Done():
	default:
		t.Error("Done not closed after release")
	}
}

func TestClaimConcurrent(t *testing.T) {
	ns := New(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, ok := ns.Claim(); ok {
				mu.Lock()
				winners++
				mu.Unlock()
				release()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
}

func TestContextRoundTrip(t *testing.T) {
	ns := New(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), nil)
	ctx := WithNodeStack(context.Background(), ns)

	got, ok := FromContext(ctx)
	if !ok || got != ns {
		t.Fatalf("FromContext = %v, %v", got, ok)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Error("empty context should carry no stack")
	}
}

func TestIdentityFallsBackToStackRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), Identity{UserID: "u1", TenantID: "t1"}))
	ns := New(httptest.NewRecorder(), req, nil)

	// A context carrying only the stack still resolves the identity.
	ctx := WithNodeStack(context.Background(), ns)
	id, ok := IdentityFrom(ctx)
	if !ok || id.TenantID != "t1" {
		t.Errorf("IdentityFrom = %+v, %v", id, ok)
	}
	if ns.Identity().UserID != "u1" {
		t.Errorf("ns.Identity = %+v", ns.Identity())
	}

	// A directly attached identity wins.
	ctx = WithIdentity(ctx, Identity{TenantID: "t2"})
	if id, _ := IdentityFrom(ctx); id.TenantID != "t2" {
		t.Errorf("direct identity = %+v", id)
	}
}

func TestTrustedHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		wantOK  bool
		want    Identity
	}{
		{
			name:   "no headers",
			wantOK: false,
		},
		{
			name: "full identity",
			headers: map[string]string{
				HeaderUserID:   "u1",
				HeaderTenantID: "t1",
				HeaderRoles:    "admin, reader ,",
			},
			wantOK: true,
			want:   Identity{UserID: "u1", TenantID: "t1", Roles: []string{"admin", "reader"}},
		},
		{
			name:    "tenant only",
			headers: map[string]string{HeaderTenantID: "t9"},
			wantOK:  true,
			want:    Identity{TenantID: "t9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				got Identity
				ok  bool
			)
			h := TrustedHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, ok = IdentityFrom(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got.UserID != tt.want.UserID || got.TenantID != tt.want.TenantID {
				t.Errorf("identity = %+v, want %+v", got, tt.want)
			}
			if len(got.Roles) != len(tt.want.Roles) {
				t.Fatalf("roles = %v, want %v", got.Roles, tt.want.Roles)
			}
			for _, r := range tt.want.Roles {
				if !got.HasRole(r) {
					t.Errorf("missing role %q", r)
				}
			}
		})
	}
}
