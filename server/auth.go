// Copyright 2025 The GrepWise Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import "net/http"

// Principal is an authenticated caller of the admin endpoints.
type Principal struct {
	Name string
}

// IdentityProvider authenticates admin requests by bearer token. The
// identity backend lives outside the core; the default allows everything.
type IdentityProvider interface {
	Authenticate(token string) (Principal, bool)
}

// AuditSink records administrative actions taken through the server.
type AuditSink interface {
	Log(event AuditEvent)
}

// AuditEvent is one administrative action.
type AuditEvent struct {
	Action    string
	Principal string
	Detail    string
}

type allowAll struct{}

func (allowAll) Authenticate(string) (Principal, bool) { return Principal{Name: "anonymous"}, true }

type nopAudit struct{}

func (nopAudit) Log(AuditEvent) {}

// WithAuth guards the cluster mutation endpoints with the given provider.
func WithAuth(provider IdentityProvider) Option {
	return func(s *Server) {
		if provider != nil {
			s.identity = provider
		}
	}
}

// WithAudit records cluster mutations into the given sink.
func WithAudit(audit AuditSink) Option {
	return func(s *Server) {
		if audit != nil {
			s.audit = audit
		}
	}
}

// authenticate resolves the caller of a mutating admin request. Failure has
// already been written to w when ok is false.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	token := r.Header.Get("Authorization")
	if len(token) > 7 && token[:7] == "Bearer " {
		token = token[7:]
	}
	principal, ok := s.identity.Authenticate(token)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid admin token")
		return Principal{}, false
	}
	return principal, true
}
