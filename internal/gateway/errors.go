package gateway

import (
	"context"
	"net"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorType represents a category of upstream error for metrics.
type ErrorType string

const (
	// ErrorTypeNetwork represents network-level errors (DNS, connection refused, etc.)
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeReset represents an established session/stream dropping
	ErrorTypeReset ErrorType = "reset"
	// ErrorTypeUnknown represents unclassified errors
	ErrorTypeUnknown ErrorType = "unknown"
)

var upstreamErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "ingest_gateway_upstream_errors_total",
	Help: "Total upstream relay errors by protocol and error type",
}, []string{"protocol", "error_type"})

func init() {
	prometheus.MustRegister(upstreamErrorsTotal)
}

func recordUpstreamError(protocol string, errType ErrorType) {
	upstreamErrorsTotal.WithLabelValues(protocol, string(errType)).Inc()
}

// classifyError categorizes a transport error into a low-cardinality type.
func classifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return ErrorTypeTimeout
	}
	if err == context.DeadlineExceeded {
		return ErrorTypeTimeout
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "transport is closing"):
		return ErrorTypeReset
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "network is unreachable"):
		return ErrorTypeNetwork
	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded"):
		return ErrorTypeTimeout
	}

	if _, ok := err.(*net.OpError); ok {
		return ErrorTypeNetwork
	}
	return ErrorTypeUnknown
}

// classifyStreamError categorizes a gRPC stream error.
func classifyStreamError(err error) ErrorType {
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.DeadlineExceeded:
			return ErrorTypeTimeout
		case codes.Unavailable:
			return ErrorTypeReset
		case codes.Canceled:
			return ErrorTypeReset
		}
	}
	return classifyError(err)
}
