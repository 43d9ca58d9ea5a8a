package gateway

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dwani-ai/dwani-gateway/internal/instrumentation"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rateLimiterAllowAll struct{}

func (rl rateLimiterAllowAll) Allow(_ context.Context, _ string, _ redis_rate.Limit) (*redis_rate.Result, error) {
	return &redis_rate.Result{Allowed: 1}, nil
}

func passThroughGuard(next http.Handler) http.Handler {
	return next
}

func newTestRouter(t *testing.T, upstream *httptest.Server) *mux.Router {
	t.Helper()

	client := NewClient(upstream.URL, upstream.URL, upstream.Client())
	handler := NewHandler(client, instrumentation.NewTestInstrumentation())

	router := mux.NewRouter().PathPrefix("/v1").Subrouter()
	handler.SetupRoutes(router, rateLimiterAllowAll{}, passThroughGuard, 100, 5)
	return router
}

func TestHandleChat(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"prompt":"hello"`)

		w.Header().Set("Content-Type", "application/json")
		_, err = w.Write([]byte(`{"response":"namaskara"}`))
		require.NoError(t, err)
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream)

	req := httptest.NewRequest(
		"POST", "/v1/chat",
		strings.NewReader(`{"prompt":"hello","src_lang":"english","tgt_lang":"kannada"}`),
	)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `{"response":"namaskara"}`, rr.Body.String())
}

func TestHandleChat_invalidPrompt(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called for invalid prompts")
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream)

	testCases := []struct {
		name string
		body string
	}{
		{name: "empty prompt", body: `{"prompt":"","src_lang":"english","tgt_lang":"kannada"}`},
		{name: "oversize prompt", body: `{"prompt":"` + strings.Repeat("a", maxChatPromptLength+1) + `"}`},
		{name: "malformed json", body: `{"prompt":`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/chat", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestHandleTranslate(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/translate", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, err := w.Write([]byte(`{"translations":["ನಮಸ್ಕಾರ"]}`))
		require.NoError(t, err)
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream)

	req := httptest.NewRequest(
		"POST", "/v1/translate",
		strings.NewReader(`{"sentences":["hello"],"src_lang":"english","tgt_lang":"kannada"}`),
	)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "translations")
}

func TestHandleTranslate_emptySentences(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called for empty sentences")
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream)

	req := httptest.NewRequest("POST", "/v1/translate", strings.NewReader(`{"sentences":[]}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleTranscribe_languageValidation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, err := w.Write([]byte(`{"text":"transcribed"}`))
		require.NoError(t, err)
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream)

	req := httptest.NewRequest("POST", "/v1/transcribe?language=kannada", strings.NewReader("fake-audio"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest("POST", "/v1/transcribe?language=klingon", strings.NewReader("fake-audio"))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleSpeech_streamsAudio(t *testing.T) {
	audio := []byte{0xFF, 0xFB, 0x90, 0x64}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/speech", r.URL.Path)
		w.Header().Set("Content-Type", "audio/mp3")
		_, err := w.Write(audio)
		require.NoError(t, err)
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream)

	req := httptest.NewRequest(
		"POST", "/v1/audio/speech",
		strings.NewReader(`{"input":"hello","voice":"female","model":"tts-1"}`),
	)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "audio/mp3", rr.Header().Get("Content-Type"))
	assert.Equal(t, audio, rr.Body.Bytes())
}

func TestHandleExtractText_pageNumberValidation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page_number"))
		assert.Equal(t, "kan", r.URL.Query().Get("language"))
		w.Header().Set("Content-Type", "application/json")
		_, err := w.Write([]byte(`{"page_content":"text"}`))
		require.NoError(t, err)
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream)

	req := httptest.NewRequest("POST", "/v1/extract-text?page_number=2&language=kan", strings.NewReader("pdf-bytes"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest("POST", "/v1/extract-text?page_number=zero", strings.NewReader("pdf-bytes"))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRelay_upstreamFailureKeptIntact(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, err := w.Write([]byte(`{"detail":"tgt_lang is required"}`))
		require.NoError(t, err)
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream)

	req := httptest.NewRequest("POST", "/v1/chat", strings.NewReader(`{"prompt":"hello"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "tgt_lang is required")
}

func TestRelay_upstreamUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close() // nothing is listening anymore

	client := NewClient(upstream.URL, upstream.URL, nil)
	handler := NewHandler(client, instrumentation.NewTestInstrumentation())
	router := mux.NewRouter().PathPrefix("/v1").Subrouter()
	handler.SetupRoutes(router, rateLimiterAllowAll{}, passThroughGuard, 100, 5)

	req := httptest.NewRequest("POST", "/v1/chat", strings.NewReader(`{"prompt":"hello"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestRelay_upstreamTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer upstream.Close()

	httpClient := &http.Client{Timeout: 20 * time.Millisecond}
	client := NewClient(upstream.URL, upstream.URL, httpClient)
	handler := NewHandler(client, instrumentation.NewTestInstrumentation())
	router := mux.NewRouter().PathPrefix("/v1").Subrouter()
	handler.SetupRoutes(router, rateLimiterAllowAll{}, passThroughGuard, 100, 5)

	req := httptest.NewRequest("POST", "/v1/chat", strings.NewReader(`{"prompt":"hello"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusGatewayTimeout, rr.Code)
}

func multipartBody(t *testing.T, fields map[string]string, fileName string, fileContent []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	formWriter := multipart.NewWriter(&buf)
	for name, value := range fields {
		require.NoError(t, formWriter.WriteField(name, value))
	}
	part, err := formWriter.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(fileContent)
	require.NoError(t, err)
	require.NoError(t, formWriter.Close())

	return &buf, formWriter.FormDataContentType()
}

func TestHandleDocumentQuery(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/document_query/", r.URL.Path)
		assert.Equal(t, "eng_Latn", r.URL.Query().Get("src_lang"))
		assert.Equal(t, "kan_Knda", r.URL.Query().Get("tgt_lang"))

		require.NoError(t, r.ParseMultipartForm(32<<20))
		assert.Equal(t, "describe the image", r.FormValue("query"))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "scan.png", header.Filename)
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, []byte("png-bytes"), content)

		w.Header().Set("Content-Type", "application/json")
		_, err = w.Write([]byte(`{"answer":"a train ticket"}`))
		require.NoError(t, err)
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream)

	body, contentType := multipartBody(t, map[string]string{"query": "describe the image"}, "scan.png", []byte("png-bytes"))
	req := httptest.NewRequest("POST", "/v1/document_query?src_lang=eng_Latn&tgt_lang=kan_Knda", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "a train ticket")
}

func TestHandleDocumentQuery_validation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called for invalid document queries")
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream)

	t.Run("unsupported language code", func(t *testing.T) {
		body, contentType := multipartBody(t, map[string]string{"query": "describe"}, "scan.png", []byte("png"))
		req := httptest.NewRequest("POST", "/v1/document_query?src_lang=elvish&tgt_lang=kan_Knda", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("empty query", func(t *testing.T) {
		body, contentType := multipartBody(t, map[string]string{"query": "  "}, "scan.png", []byte("png"))
		req := httptest.NewRequest("POST", "/v1/document_query?src_lang=eng_Latn&tgt_lang=kan_Knda", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("missing file", func(t *testing.T) {
		var buf bytes.Buffer
		formWriter := multipart.NewWriter(&buf)
		require.NoError(t, formWriter.WriteField("query", "describe"))
		require.NoError(t, formWriter.Close())

		req := httptest.NewRequest("POST", "/v1/document_query?src_lang=eng_Latn&tgt_lang=kan_Knda", &buf)
		req.Header.Set("Content-Type", formWriter.FormDataContentType())
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestHandleSpeechToSpeech(t *testing.T) {
	audio := []byte{0xFF, 0xFB, 0x90, 0x64}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/speech_to_speech", r.URL.Path)
		assert.Equal(t, "hindi", r.URL.Query().Get("language"))
		w.Header().Set("Content-Type", "audio/mp3")
		_, err := w.Write(audio)
		require.NoError(t, err)
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream)

	req := httptest.NewRequest("POST", "/v1/speech_to_speech?language=hindi", strings.NewReader("fake-audio"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "audio/mp3", rr.Header().Get("Content-Type"))
	assert.Equal(t, audio, rr.Body.Bytes())

	req = httptest.NewRequest("POST", "/v1/speech_to_speech?language=klingon", strings.NewReader("fake-audio"))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRelayDocument(t *testing.T) {
	testCases := []struct {
		name         string
		target       string
		upstreamPath string
		response     string
	}{
		{
			name:         "document process",
			target:       "/v1/document_process",
			upstreamPath: "/extract-text-all-pages-batch/",
			response:     `{"pages":[{"page_number":1,"page_text":"some text"}]}`,
		},
		{
			name:         "document summary",
			target:       "/v1/document_summary",
			upstreamPath: "/summarize-all-pages/",
			response:     `{"pages":[{"page_number":1,"page_text":"some text"}],"summary":"a ticket"}`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, tc.upstreamPath, r.URL.Path)
				require.NoError(t, r.ParseMultipartForm(32<<20))
				assert.Equal(t, "eng_Latn", r.FormValue("src_lang"))
				assert.Equal(t, "eng_Latn", r.FormValue("tgt_lang"))
				assert.Equal(t, "read the document", r.FormValue("prompt"))
				_, _, err := r.FormFile("file")
				require.NoError(t, err)

				w.Header().Set("Content-Type", "application/json")
				_, err = w.Write([]byte(tc.response))
				require.NoError(t, err)
			}))
			defer upstream.Close()

			router := newTestRouter(t, upstream)

			body, contentType := multipartBody(t, map[string]string{
				"src_lang": "eng_Latn",
				"tgt_lang": "eng_Latn",
				"prompt":   "read the document",
			}, "ticket.pdf", []byte("pdf-bytes"))
			req := httptest.NewRequest("POST", tc.target, body)
			req.Header.Set("Content-Type", contentType)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			require.Equal(t, http.StatusOK, rr.Code)
			assert.Contains(t, rr.Body.String(), "page_text")
		})
	}
}

func TestRelayDocument_validation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called for invalid document uploads")
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream)

	testCases := []struct {
		name     string
		fields   map[string]string
		fileName string
	}{
		{
			name: "not a pdf",
			fields: map[string]string{
				"src_lang": "eng_Latn", "tgt_lang": "eng_Latn", "prompt": "read it",
			},
			fileName: "ticket.txt",
		},
		{
			name: "empty prompt",
			fields: map[string]string{
				"src_lang": "eng_Latn", "tgt_lang": "eng_Latn", "prompt": "",
			},
			fileName: "ticket.pdf",
		},
		{
			name: "unsupported language code",
			fields: map[string]string{
				"src_lang": "xx_Latn", "tgt_lang": "eng_Latn", "prompt": "read it",
			},
			fileName: "ticket.pdf",
		},
		{
			name: "oversize prompt",
			fields: map[string]string{
				"src_lang": "eng_Latn", "tgt_lang": "eng_Latn",
				"prompt": strings.Repeat("a", maxChatPromptLength+1),
			},
			fileName: "ticket.pdf",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			body, contentType := multipartBody(t, tc.fields, tc.fileName, []byte("pdf-bytes"))
			req := httptest.NewRequest("POST", "/v1/document_process", body)
			req.Header.Set("Content-Type", contentType)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestHandleExtractText_languageIsEscaped(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the whole value must arrive as one parameter, nothing injected
		assert.Equal(t, "kan&page_number=99", r.URL.Query().Get("language"))
		assert.Equal(t, "1", r.URL.Query().Get("page_number"))
		w.Header().Set("Content-Type", "application/json")
		_, err := w.Write([]byte(`{"page_content":"text"}`))
		require.NoError(t, err)
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream)

	target := "/v1/extract-text?language=" + url.QueryEscape("kan&page_number=99")
	req := httptest.NewRequest("POST", target, strings.NewReader("pdf-bytes"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}
