package handlers

import (
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	apiContext "pulse/internal/api/context"
)

func params(r *http.Request) httprouter.Params {
	if ps, ok := r.Context().Value(apiContext.Params).(httprouter.Params); ok {
		return ps
	}
	return nil
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func nowUnix() int64 {
	return time.Now().Unix()
}
