package hook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	cfg_hook "github.com/opst/mlserve/pkg/configs/hook"
	"github.com/opst/mlserve/pkg/hook"
	"github.com/opst/mlserve/pkg/utils/try"
)

type Value struct {
	Content string `json:"content"`
}

type Resp struct {
	StatusCode  int
	ContentType string
	Content     string
}

func TestWebHook(t *testing.T) {
	type When struct {
		value Value
		resp1 Resp
		resp2 Resp
	}

	type Then struct {
		invoked1 bool
		invoked2 bool
		err      error
	}

	theory := func(before bool, when When, then Then) func(t *testing.T) {
		return func(t *testing.T) {
			handler := func(w http.ResponseWriter, r *http.Request, name string, resp Resp) {
				buf := new(bytes.Buffer)
				buf.ReadFrom(r.Body)

				if r.Method != http.MethodPost {
					t.Errorf("%s: unexpected method: %s", name, r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("%s: unexpected content type: %s", name, ct)
				}

				var got Value
				if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
					t.Errorf("%s: unexpected error: %v", name, err)
				}
				if got != when.value {
					t.Errorf("%s: Expected: %v, Got: %v", name, when.value, got)
				}

				if resp.ContentType != "" {
					w.Header().Set("Content-Type", resp.ContentType)
				}
				w.WriteHeader(resp.StatusCode)
				if resp.Content != "" {
					w.Write([]byte(resp.Content))
				}
			}

			invoked1, invoked2 := false, false
			server1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				invoked1 = true
				handler(w, r, "server1", when.resp1)
			}))
			defer server1.Close()

			server2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				invoked2 = true
				handler(w, r, "server2", when.resp2)
			}))
			defer server2.Close()

			urls := []*url.URL{
				try.To(url.Parse(server1.URL)).OrFatal(t),
				try.To(url.Parse(server2.URL)).OrFatal(t),
			}
			var err error
			if before {
				err = hook.Web[Value]{BeforeURL: urls}.Before(context.Background(), when.value)
			} else {
				err = hook.Web[Value]{AfterURL: urls}.After(context.Background(), when.value)
			}

			if !errors.Is(err, then.err) {
				t.Errorf("Want: %v, Got: %v", then.err, err)
			}
			if invoked1 != then.invoked1 {
				t.Errorf("server1 invoked: want %v, got %v", then.invoked1, invoked1)
			}
			if invoked2 != then.invoked2 {
				t.Errorf("server2 invoked: want %v, got %v", then.invoked2, invoked2)
			}
		}
	}

	for name, before := range map[string]bool{"Before": true, "After": false} {
		t.Run(name+": Success All", theory(
			before,
			When{
				value: Value{Content: "hello"},
				resp1: Resp{StatusCode: http.StatusOK, ContentType: "application/json", Content: `{"a": "1"}`},
				resp2: Resp{StatusCode: http.StatusNoContent},
			},
			Then{invoked1: true, invoked2: true},
		))
		t.Run(name+": Fail First", theory(
			before,
			When{
				value: Value{Content: "hello"},
				resp1: Resp{StatusCode: http.StatusNotFound},
				resp2: Resp{StatusCode: http.StatusOK},
			},
			Then{invoked1: true, invoked2: false, err: hook.ErrHookFailed},
		))
		t.Run(name+": Fail Second", theory(
			before,
			When{
				value: Value{Content: "hello"},
				resp1: Resp{StatusCode: http.StatusOK},
				resp2: Resp{StatusCode: http.StatusInternalServerError, ContentType: "text/plain", Content: "oops"},
			},
			Then{invoked1: true, invoked2: true, err: hook.ErrHookFailed},
		))
	}
}

func TestWebHook_InvalidUrl(t *testing.T) {
	testee := hook.Web[string]{
		AfterURL: []*url.URL{try.To(url.Parse("http://somewhere.invalid")).OrFatal(t)},
	}
	if err := testee.After(context.Background(), "hello"); !errors.Is(err, hook.ErrHookFailed) {
		t.Fatalf("Expected an error: %v", err)
	}
}

func TestBuild(t *testing.T) {
	t.Run("without urls, it is None", func(t *testing.T) {
		got := hook.Build[Value](cfg_hook.WebHook{})
		if _, ok := got.(hook.None[Value]); !ok {
			t.Errorf("unexpected hook: %T", got)
		}
	})
	t.Run("with urls, it is Web", func(t *testing.T) {
		u := try.To(url.Parse("http://example.com")).OrFatal(t)
		got := hook.Build[Value](cfg_hook.WebHook{After: []*url.URL{u}})
		w, ok := got.(hook.Web[Value])
		if !ok {
			t.Fatalf("unexpected hook: %T", got)
		}
		if len(w.AfterURL) != 1 || len(w.BeforeURL) != 0 {
			t.Errorf("urls: %+v", w)
		}
	})
}

func TestFunc(t *testing.T) {
	errFn := errors.New("fn")
	testee := hook.Func[Value]{
		BeforeFn: func(context.Context, Value) error { return errFn },
	}
	if err := testee.Before(context.Background(), Value{}); !errors.Is(err, errFn) || !errors.Is(err, hook.ErrHookFailed) {
		t.Errorf("before: %v", err)
	}
	if err := testee.After(context.Background(), Value{}); err != nil {
		t.Errorf("after: %v", err)
	}
}
