package guardlib

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// BodyKind is a format of the parsed request body.
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyJSON
	BodyForm
	BodyRaw
)

const (
	mediaTypeJSON = "application/json"
	mediaTypeForm = "application/x-www-form-urlencoded"
)

// ParsedBody is a request body decoded by the pipeline. After the
// sanitization stage it carries sanitized values; the request body is
// rewritten accordingly.
type ParsedBody struct {
	Kind        BodyKind
	ContentType string

	// JSON is a decoded document. Numbers are json.Number.
	JSON interface{}
	Form url.Values
	Raw  []byte
}

// Decode unmarshals a JSON body into v.
func (p *ParsedBody) Decode(v interface{}) error {
	if p.Kind != BodyJSON {
		return fmt.Errorf("body is not json: %w", ErrMalformedInput)
	}

	return json.Unmarshal(p.Raw, v) //nolint: wrapcheck
}

// BodyFromContext returns a body parsed by the pipeline.
func BodyFromContext(ctx context.Context) (*ParsedBody, bool) {
	body, ok := ctx.Value(contextKeyBody).(*ParsedBody)

	return body, ok
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}

	return false
}

func readBody(r *http.Request, maxSize int64) (*ParsedBody, error) {
	body := &ParsedBody{
		ContentType: r.Header.Get("Content-Type"),
	}

	if r.Body == nil || r.Body == http.NoBody {
		return body, nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxSize+1))
	r.Body.Close() //nolint: errcheck

	switch {
	case err != nil:
		return nil, fmt.Errorf("cannot read body: %w", ErrMalformedInput)
	case int64(len(raw)) > maxSize:
		return nil, ErrBodyTooLarge
	case len(raw) == 0:
		return body, nil
	}

	body.Raw = raw
	mediaType, _, err := mime.ParseMediaType(body.ContentType)

	switch {
	case err == nil && (mediaType == mediaTypeJSON || strings.HasSuffix(mediaType, "+json")):
		body.Kind = BodyJSON
		body.JSON, err = decodeJSON(raw)

		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
		}
	case err == nil && mediaType == mediaTypeForm:
		body.Kind = BodyForm
		body.Form, err = url.ParseQuery(string(raw))

		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
		}
	case isSafeMethod(r.Method):
		body.Kind = BodyRaw
	default:
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrMalformedInput, body.ContentType)
	}

	return body, nil
}

func decodeJSON(raw []byte) (interface{}, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var document interface{}

	if err := decoder.Decode(&document); err != nil {
		return nil, fmt.Errorf("cannot decode json: %w", err)
	}

	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after json document")
	}

	return document, nil
}

// encode serializes sanitized values back. Raw bodies are returned as is.
func (p *ParsedBody) encode() ([]byte, error) {
	switch p.Kind { //nolint: exhaustive
	case BodyJSON:
		buf := &bytes.Buffer{}
		encoder := json.NewEncoder(buf)
		encoder.SetEscapeHTML(false)

		if err := encoder.Encode(p.JSON); err != nil {
			return nil, fmt.Errorf("cannot encode json: %w", err)
		}

		return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
	case BodyForm:
		return []byte(p.Form.Encode()), nil
	}

	return p.Raw, nil
}

// attach puts a body back into the request. If values were changed,
// they are encoded again; otherwise original bytes are kept.
func (p *ParsedBody) attach(r *http.Request, changed bool) error {
	if p.Kind == BodyNone {
		r.Body = http.NoBody

		return nil
	}

	if changed {
		raw, err := p.encode()
		if err != nil {
			return err
		}

		p.Raw = raw
	}

	raw := p.Raw

	r.Body = io.NopCloser(bytes.NewReader(raw))
	r.ContentLength = int64(len(raw))
	r.Header.Set("Content-Length", strconv.Itoa(len(raw)))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}

	return nil
}
