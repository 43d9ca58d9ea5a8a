package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dwani-ai/dwani-gateway/internal/instrumentation"
	"github.com/dwani-ai/dwani-gateway/internal/middleware"
	"github.com/dwani-ai/dwani-gateway/pkg"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

const (
	maxChatPromptLength = 1000

	// multipart uploads larger than this spill to disk while re-forming
	maxUploadMemory = 32 << 20
)

// Languages the speech upstreams understand, for transcription and
// speech-to-speech alike.
var transcribeLanguages = map[string]bool{
	"kannada": true,
	"hindi":   true,
	"tamil":   true,
}

// Language codes the visual/document query upstream accepts.
var queryLanguages = map[string]bool{
	"kan_Knda": true,
	"hin_Deva": true,
	"tam_Taml": true,
	"eng_Latn": true,
}

// Language codes the document processing upstream accepts.
var documentLanguages = map[string]bool{
	"eng_Latn": true,
	"hin_Deva": true,
	"kan_Knda": true,
	"tam_Taml": true,
	"mal_Mlym": true,
	"tel_Telu": true,
	"deu_Latn": true,
	"fra_Latn": true,
	"nld_Latn": true,
	"spa_Latn": true,
	"ita_Latn": true,
	"por_Latn": true,
	"rus_Cyrl": true,
	"pol_Latn": true,
}

type chatRequest struct {
	Prompt  string `json:"prompt"`
	SrcLang string `json:"src_lang"`
	TgtLang string `json:"tgt_lang"`
}

type translateRequest struct {
	Sentences []string `json:"sentences"`
	SrcLang   string   `json:"src_lang"`
	TgtLang   string   `json:"tgt_lang"`
}

type speechRequest struct {
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	Model          string `json:"model"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// Handler relays inference traffic to the upstream services. Every route it
// registers sits behind the authentication guard.
type Handler struct {
	client *Client
	instr  *instrumentation.Instrumentation
}

func NewHandler(client *Client, instr *instrumentation.Instrumentation) *Handler {
	return &Handler{
		client: client,
		instr:  instr,
	}
}

func (handler *Handler) SetupRoutes(
	router *mux.Router,
	rateLimiter middleware.RequestRateLimiter,
	authGuard func(next http.Handler) http.Handler,
	chatAllowedPerMin int,
	speechAllowedPerMin int,
) {
	chatLimit := middleware.RateLimit(rateLimiter, "chat", chatAllowedPerMin, handler.instr)
	speechLimit := middleware.RateLimit(rateLimiter, "speech", speechAllowedPerMin, handler.instr)

	router.Handle(
		"/chat",
		chatLimit(authGuard(http.HandlerFunc(handler.handleChat))),
	).Methods("POST", "OPTIONS").Name("chat")
	router.Handle(
		"/translate",
		chatLimit(authGuard(http.HandlerFunc(handler.handleTranslate))),
	).Methods("POST", "OPTIONS").Name("translate")
	router.Handle(
		"/transcribe",
		speechLimit(authGuard(http.HandlerFunc(handler.handleTranscribe))),
	).Methods("POST", "OPTIONS").Name("transcribe")
	router.Handle(
		"/audio/speech",
		speechLimit(authGuard(http.HandlerFunc(handler.handleSpeech))),
	).Methods("POST", "OPTIONS").Name("speech")
	router.Handle(
		"/speech_to_speech",
		speechLimit(authGuard(http.HandlerFunc(handler.handleSpeechToSpeech))),
	).Methods("POST", "OPTIONS").Name("speech-to-speech")
	router.Handle(
		"/visual_query",
		chatLimit(authGuard(http.HandlerFunc(handler.handleVisualQuery))),
	).Methods("POST", "OPTIONS").Name("visual-query")
	router.Handle(
		"/document_query",
		chatLimit(authGuard(http.HandlerFunc(handler.handleDocumentQuery))),
	).Methods("POST", "OPTIONS").Name("document-query")
	router.Handle(
		"/extract-text",
		chatLimit(authGuard(http.HandlerFunc(handler.handleExtractText))),
	).Methods("POST", "OPTIONS").Name("extract-text")
	router.Handle(
		"/document_process",
		chatLimit(authGuard(http.HandlerFunc(handler.handleDocumentProcess))),
	).Methods("POST", "OPTIONS").Name("document-process")
	router.Handle(
		"/document_summary",
		chatLimit(authGuard(http.HandlerFunc(handler.handleDocumentSummary))),
	).Methods("POST", "OPTIONS").Name("document-summary")
}

func (handler *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, "prompt cannot be empty", http.StatusBadRequest)
		return
	}
	if len(req.Prompt) > maxChatPromptLength {
		http.Error(w, fmt.Sprintf("prompt cannot exceed %d characters", maxChatPromptLength), http.StatusBadRequest)
		return
	}

	started := time.Now()
	resp, err := handler.client.PostJSON(r.Context(), "/v1/chat", req)
	handler.relayJSON(w, r, "chat", resp, err, started)
}

func (handler *Handler) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if len(req.Sentences) == 0 {
		http.Error(w, "sentences cannot be empty", http.StatusBadRequest)
		return
	}

	started := time.Now()
	resp, err := handler.client.PostJSON(r.Context(), "/v1/translate", req)
	handler.relayJSON(w, r, "translate", resp, err, started)
}

func (handler *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	language := r.URL.Query().Get("language")
	if !transcribeLanguages[language] {
		http.Error(w, "unsupported language for transcription", http.StatusBadRequest)
		return
	}

	path := "/v1/transcribe/?" + url.Values{"language": {language}}.Encode()
	started := time.Now()
	resp, err := handler.client.PostBody(r.Context(), path, r.Header.Get("Content-Type"), r.Body)
	handler.relayJSON(w, r, "transcribe", resp, err, started)
}

func (handler *Handler) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input cannot be empty", http.StatusBadRequest)
		return
	}

	started := time.Now()
	resp, err := handler.client.PostJSON(r.Context(), "/v1/audio/speech", req)
	handler.relayAudio(w, r, "speech", resp, err, started)
}

// handleSpeechToSpeech relays an audio upload and streams the converted
// audio back, same shape as text-to-speech.
func (handler *Handler) handleSpeechToSpeech(w http.ResponseWriter, r *http.Request) {
	language := r.URL.Query().Get("language")
	if !transcribeLanguages[language] {
		http.Error(w, "unsupported language for speech conversion", http.StatusBadRequest)
		return
	}

	path := "/v1/speech_to_speech?" + url.Values{"language": {language}}.Encode()
	started := time.Now()
	resp, err := handler.client.PostBody(r.Context(), path, r.Header.Get("Content-Type"), r.Body)
	handler.relayAudio(w, r, "speech-to-speech", resp, err, started)
}

func (handler *Handler) relayAudio(
	w http.ResponseWriter,
	r *http.Request,
	endpoint string,
	resp *http.Response,
	err error,
	started time.Time,
) {
	if err != nil {
		handler.writeUpstreamError(w, r, endpoint, err, started)
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Errorf("%s: close upstream body: %s", endpoint, err)
		}
	}()

	handler.observeUpstream(endpoint, resp.StatusCode, started)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		handler.relayUpstreamFailure(w, endpoint, resp)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mp3"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `inline; filename="speech.mp3"`)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Errorf("%s: stream audio to client: %s", endpoint, err)
	}
}

func (handler *Handler) handleVisualQuery(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	resp, err := handler.client.PostBody(r.Context(), "/v1/visual_query", r.Header.Get("Content-Type"), r.Body)
	handler.relayJSON(w, r, "visual-query", resp, err, started)
}

// handleDocumentQuery asks the vision upstream about an uploaded document
// image. The query travels as a form field, the languages as query params.
func (handler *Handler) handleDocumentQuery(w http.ResponseWriter, r *http.Request) {
	srcLang := r.URL.Query().Get("src_lang")
	tgtLang := r.URL.Query().Get("tgt_lang")
	if !queryLanguages[srcLang] || !queryLanguages[tgtLang] {
		http.Error(w, "unsupported language code", http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	query := r.FormValue("query")
	if strings.TrimSpace(query) == "" {
		http.Error(w, "query cannot be empty", http.StatusBadRequest)
		return
	}
	if len(query) > maxChatPromptLength {
		http.Error(w, fmt.Sprintf("query cannot exceed %d characters", maxChatPromptLength), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Errorf("document-query: close upload: %s", err)
		}
	}()

	body, contentType, err := reformUpload(file, header, map[string]string{"query": query})
	if err != nil {
		log.Errorf("document-query: re-form upload: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	path := "/v1/document_query/?" + url.Values{
		"src_lang": {srcLang},
		"tgt_lang": {tgtLang},
	}.Encode()
	started := time.Now()
	resp, err := handler.client.PostBody(r.Context(), path, contentType, body)
	handler.relayJSON(w, r, "document-query", resp, err, started)
}

func (handler *Handler) handleDocumentProcess(w http.ResponseWriter, r *http.Request) {
	handler.relayDocument(w, r, "document-process", "/extract-text-all-pages-batch/")
}

func (handler *Handler) handleDocumentSummary(w http.ResponseWriter, r *http.Request) {
	handler.relayDocument(w, r, "document-summary", "/summarize-all-pages/")
}

// relayDocument is the shared whole-PDF flow: validate prompt, language
// codes and file, then re-form the upload for the document service.
func (handler *Handler) relayDocument(w http.ResponseWriter, r *http.Request, endpoint, upstreamPath string) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	prompt := r.FormValue("prompt")
	if strings.TrimSpace(prompt) == "" {
		http.Error(w, "prompt cannot be empty", http.StatusBadRequest)
		return
	}
	if len(prompt) > maxChatPromptLength {
		http.Error(w, fmt.Sprintf("prompt cannot exceed %d characters", maxChatPromptLength), http.StatusBadRequest)
		return
	}

	srcLang := r.FormValue("src_lang")
	tgtLang := r.FormValue("tgt_lang")
	if !documentLanguages[srcLang] || !documentLanguages[tgtLang] {
		http.Error(w, "unsupported language code", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Errorf("%s: close upload: %s", endpoint, err)
		}
	}()
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		http.Error(w, "file must be a PDF", http.StatusBadRequest)
		return
	}

	body, contentType, err := reformUpload(file, header, map[string]string{
		"src_lang": srcLang,
		"tgt_lang": tgtLang,
		"prompt":   prompt,
	})
	if err != nil {
		log.Errorf("%s: re-form upload: %s", endpoint, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	started := time.Now()
	resp, err := handler.client.PostPdfBody(r.Context(), upstreamPath, contentType, body)
	handler.relayJSON(w, r, endpoint, resp, err, started)
}

// reformUpload rebuilds a multipart body from an already-parsed upload so
// validated fields can be forwarded alongside the file.
func reformUpload(file multipart.File, header *multipart.FileHeader, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	formWriter := multipart.NewWriter(&buf)

	for name, value := range fields {
		if err := formWriter.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", name, err)
		}
	}

	part, err := formWriter.CreateFormFile("file", header.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("copy file part: %w", err)
	}

	if err := formWriter.Close(); err != nil {
		return nil, "", fmt.Errorf("close form writer: %w", err)
	}

	return &buf, formWriter.FormDataContentType(), nil
}

func (handler *Handler) handleExtractText(w http.ResponseWriter, r *http.Request) {
	pageNumber := r.URL.Query().Get("page_number")
	if pageNumber == "" {
		pageNumber = "1"
	}
	if n, err := strconv.Atoi(pageNumber); err != nil || n < 1 {
		http.Error(w, "page_number must be a positive integer", http.StatusBadRequest)
		return
	}
	language := r.URL.Query().Get("language")
	if language == "" {
		language = "eng"
	}

	path := "/extract-text/?" + url.Values{
		"page_number": {pageNumber},
		"language":    {language},
	}.Encode()
	started := time.Now()
	resp, err := handler.client.PostPdfBody(r.Context(), path, r.Header.Get("Content-Type"), r.Body)
	handler.relayJSON(w, r, "extract-text", resp, err, started)
}

// relayJSON forwards the upstream response to the client, keeping the
// upstream status code and JSON payload intact on failure responses.
func (handler *Handler) relayJSON(
	w http.ResponseWriter,
	r *http.Request,
	endpoint string,
	resp *http.Response,
	err error,
	started time.Time,
) {
	if err != nil {
		handler.writeUpstreamError(w, r, endpoint, err, started)
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Errorf("%s: close upstream body: %s", endpoint, err)
		}
	}()

	handler.observeUpstream(endpoint, resp.StatusCode, started)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		handler.relayUpstreamFailure(w, endpoint, resp)
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Errorf("%s: read upstream response: %s", endpoint, err)
		http.Error(w, "upstream service error", http.StatusBadGateway)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, body, resp.StatusCode)
}

func (handler *Handler) relayUpstreamFailure(w http.ResponseWriter, endpoint string, resp *http.Response) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(body) == 0 {
		body = []byte(`{"detail":"upstream service error"}`)
	}
	log.Warnf("%s: upstream returned status %d", endpoint, resp.StatusCode)
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, body, resp.StatusCode)
}

func (handler *Handler) writeUpstreamError(w http.ResponseWriter, r *http.Request, endpoint string, err error, started time.Time) {
	switch {
	case errors.Is(err, ErrUpstreamTimeout):
		log.Errorf("%s: upstream timeout: %s", endpoint, err)
		handler.observeUpstream(endpoint, http.StatusGatewayTimeout, started)
		http.Error(w, "upstream service timeout", http.StatusGatewayTimeout)
	case errors.Is(err, ErrUpstreamUnreachable):
		log.Errorf("%s: upstream unreachable: %s", endpoint, err)
		handler.observeUpstream(endpoint, http.StatusBadGateway, started)
		http.Error(w, "upstream service unavailable", http.StatusBadGateway)
	default:
		log.Errorf("%s: upstream request failed: %s", endpoint, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (handler *Handler) observeUpstream(endpoint string, statusCode int, started time.Time) {
	if handler.instr == nil {
		return
	}
	handler.instr.HistogramUpstreamDuration.
		WithLabelValues(endpoint, strconv.Itoa(statusCode)).
		Observe(time.Since(started).Seconds())
}
