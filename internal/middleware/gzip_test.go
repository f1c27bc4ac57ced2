package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoInvoice отвечает телом запроса, либо ошибкой, если в нём нет invoiceId.
func echoInvoice(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if !bytes.Contains(body, []byte("invoiceId")) {
		http.Error(w, "missing invoiceId", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestGzipMiddleware(t *testing.T) {
	const invoice = `{"invoiceId":"7d1c","status":"PAID"}`

	tests := []struct {
		name            string
		body            string
		gzipBody        bool
		acceptGzip      bool
		wantStatus      int
		wantEncoding    string
		wantBodyContain string
	}{
		{
			name:            "compressed response",
			body:            invoice,
			acceptGzip:      true,
			wantStatus:      http.StatusOK,
			wantEncoding:    "gzip",
			wantBodyContain: `"status":"PAID"`,
		},
		{
			name:            "client without gzip",
			body:            invoice,
			wantStatus:      http.StatusOK,
			wantBodyContain: `"status":"PAID"`,
		},
		{
			name:            "compressed request body",
			body:            invoice,
			gzipBody:        true,
			acceptGzip:      true,
			wantStatus:      http.StatusOK,
			wantEncoding:    "gzip",
			wantBodyContain: `"invoiceId":"7d1c"`,
		},
		{
			name:            "error response is not compressed",
			body:            `{}`,
			acceptGzip:      true,
			wantStatus:      http.StatusBadRequest,
			wantBodyContain: "missing invoiceId",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader = strings.NewReader(tt.body)
			if tt.gzipBody {
				body = bytes.NewReader(gzipBytes(t, tt.body))
			}

			req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payments", body)
			if tt.gzipBody {
				req.Header.Set("Content-Encoding", "gzip")
			}
			if tt.acceptGzip {
				req.Header.Set("Accept-Encoding", "gzip")
			}

			w := httptest.NewRecorder()
			GzipMiddleware(http.HandlerFunc(echoInvoice)).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			require.Equal(t, tt.wantStatus, res.StatusCode)
			assert.Equal(t, tt.wantEncoding, res.Header.Get("Content-Encoding"))

			var reader io.Reader = res.Body
			if res.Header.Get("Content-Encoding") == "gzip" {
				gr, err := gzip.NewReader(res.Body)
				require.NoError(t, err)
				defer gr.Close()
				reader = gr
			}
			got, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.Contains(t, string(got), tt.wantBodyContain)
		})
	}
}

func TestGzipMiddlewareRejectsBrokenBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payments", strings.NewReader("not gzip"))
	req.Header.Set("Content-Encoding", "gzip")

	w := httptest.NewRecorder()
	GzipMiddleware(http.HandlerFunc(echoInvoice)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
