package model

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a harvest failure. The router maps kinds to HTTP statuses
// and the retry layer treats every kind as permanent; only raw transport
// errors below this taxonomy are retried.
type Kind string

const (
	KindInvalidInput         Kind = "invalid_input"
	KindAddressNotFound      Kind = "address_not_found"
	KindGeocodingUnavailable Kind = "geocoding_unavailable"
	KindNoCoverage           Kind = "no_coverage"
	KindProviderUnavailable  Kind = "provider_unavailable"
	KindProviderProtocol     Kind = "provider_protocol"
	KindFetchFailed          Kind = "fetch_failed"
	KindDecodeFailed         Kind = "decode_failed"
	KindTimeout              Kind = "timeout"
	KindInternal             Kind = "internal"
)

// Failure is the typed error carried between layers. Detail is the
// human-readable text surfaced to callers; Err is the wrapped cause.
type Failure struct {
	Kind   Kind
	Detail string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Detail, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

func (f *Failure) Unwrap() error { return f.Err }

func NewInvalidInput(detail string) *Failure {
	return &Failure{Kind: KindInvalidInput, Detail: detail}
}

func NewAddressNotFound(address string) *Failure {
	return &Failure{Kind: KindAddressNotFound, Detail: fmt.Sprintf("Could not geocode address: %s", address)}
}

func NewGeocodingUnavailable(err error) *Failure {
	return &Failure{Kind: KindGeocodingUnavailable, Detail: "Geocoding service unavailable", Err: err}
}

// NewNoCoverage reports that no panorama exists within radiusMeters of the
// requested point.
func NewNoCoverage(radiusMeters float64) *Failure {
	return &Failure{
		Kind:   KindNoCoverage,
		Detail: fmt.Sprintf("No panoramas found within %.0f meters of the location", radiusMeters),
	}
}

// NewNoCoverageDetail reports provider-specific absence of coverage, e.g. an
// empty coverage tile set.
func NewNoCoverageDetail(detail string) *Failure {
	return &Failure{Kind: KindNoCoverage, Detail: detail}
}

func NewProviderUnavailable(provider string, err error) *Failure {
	return &Failure{Kind: KindProviderUnavailable, Detail: fmt.Sprintf("Provider %s unavailable", provider), Err: err}
}

func NewProviderProtocol(provider string, err error) *Failure {
	return &Failure{Kind: KindProviderProtocol, Detail: fmt.Sprintf("Provider %s returned an unexpected response", provider), Err: err}
}

func NewFetchFailed(provider string, err error) *Failure {
	return &Failure{Kind: KindFetchFailed, Detail: fmt.Sprintf("Failed to fetch image from provider %s", provider), Err: err}
}

func NewDecodeFailed(encoding string, err error) *Failure {
	return &Failure{Kind: KindDecodeFailed, Detail: fmt.Sprintf("Failed to decode %s image", encoding), Err: err}
}

func NewTimeout(err error) *Failure {
	return &Failure{Kind: KindTimeout, Detail: "Harvest deadline exceeded", Err: err}
}

func NewInternal(err error) *Failure {
	return &Failure{Kind: KindInternal, Detail: "Internal error", Err: err}
}

// KindOf extracts the failure kind from err. Context expiry maps to
// KindTimeout, anything untyped to KindInternal.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindInternal
}

// DetailOf returns the human-readable detail for err.
func DetailOf(err error) string {
	var f *Failure
	if errors.As(err, &f) && f.Detail != "" {
		return f.Detail
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "Harvest deadline exceeded"
	}
	return "Internal error"
}
