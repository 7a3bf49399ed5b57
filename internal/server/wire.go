package server

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/jnlpguard/internal/broker"
	"github.com/ppiankov/jnlpguard/internal/model"
	"github.com/ppiankov/jnlpguard/internal/remember"
	"github.com/ppiankov/jnlpguard/internal/truststore"
)

// Messages are structpb.Struct values. Field names below are the wire
// contract shared with internal/client.

// RequestToStruct encodes req for Submit.
func RequestToStruct(req *model.Request) (*structpb.Struct, error) {
	p := req.Params()
	params := map[string]any{
		"path":              p.Path,
		"host":              p.Host,
		"port":              float64(p.Port),
		"realm":             p.Realm,
		"urls":              stringsToAny(p.URLs),
		"allowed_codebases": p.AllowedCodebases,
		"certificates":      stringsToAny(certsToPEM(p.Certificates)),
	}
	m := map[string]any{
		"id":     req.ID(),
		"kind":   string(req.Kind()),
		"params": params,
	}
	if s, ok := req.Subject(); ok {
		subject := map[string]any{
			"title":    s.Title,
			"vendor":   s.Vendor,
			"location": s.Location,
			"codebase": s.Codebase,
		}
		if s.Signer != nil {
			subject["signer"] = string(certPEM(s.Signer))
		}
		m["subject"] = subject
	}
	return structpb.NewStruct(m)
}

// StructToRequest decodes a Submit message into a new request.
func StructToRequest(in *structpb.Struct) (*model.Request, error) {
	f := in.GetFields()
	kind, err := model.ParseKind(f["kind"].GetStringValue())
	if err != nil {
		return nil, err
	}

	var subject *model.Subject
	if sv := f["subject"].GetStructValue(); sv != nil {
		sf := sv.GetFields()
		subject = &model.Subject{
			Title:    sf["title"].GetStringValue(),
			Vendor:   sf["vendor"].GetStringValue(),
			Location: sf["location"].GetStringValue(),
			Codebase: sf["codebase"].GetStringValue(),
		}
		if raw := sf["signer"].GetStringValue(); raw != "" {
			certs, err := truststore.ParsePEM([]byte(raw))
			if err != nil {
				return nil, fmt.Errorf("subject signer: %w", err)
			}
			if len(certs) > 0 {
				subject.Signer = certs[0]
			}
		}
	}
	if subject == nil && !kind.Subjectless() {
		return nil, fmt.Errorf("%s request needs a subject", kind)
	}

	var params model.Params
	if pv := f["params"].GetStructValue(); pv != nil {
		pf := pv.GetFields()
		params.Path = pf["path"].GetStringValue()
		params.Host = pf["host"].GetStringValue()
		params.Port = int(pf["port"].GetNumberValue())
		params.Realm = pf["realm"].GetStringValue()
		params.AllowedCodebases = pf["allowed_codebases"].GetStringValue()
		params.URLs = listStrings(pf["urls"])
		for _, raw := range listStrings(pf["certificates"]) {
			certs, err := truststore.ParsePEM([]byte(raw))
			if err != nil {
				return nil, fmt.Errorf("certificates: %w", err)
			}
			params.Certificates = append(params.Certificates, certs...)
		}
	}
	return model.NewRequestWithID(f["id"].GetStringValue(), kind, subject, params), nil
}

// ResultToStruct encodes a delivered decision. The encoded decision
// carries credentials in clear because the caller needs them.
func ResultToStruct(r broker.Result) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"request_id":  r.RequestID,
		"kind":        string(r.Kind),
		"decision":    r.Decision.Encode(),
		"granted":     r.Granted(),
		"remember":    r.Remember.String(),
		"resolved_by": string(r.ResolvedBy),
		"reason":      r.Reason,
	})
}

// StructToResult decodes a Submit reply.
func StructToResult(in *structpb.Struct) (broker.Result, error) {
	f := in.GetFields()
	kind, err := model.ParseKind(f["kind"].GetStringValue())
	if err != nil {
		return broker.Result{}, err
	}
	d, err := model.ParseDecision(kind.Shape(), f["decision"].GetStringValue())
	if err != nil {
		return broker.Result{}, err
	}
	scope, err := model.ParseRememberScope(f["remember"].GetStringValue())
	if err != nil {
		return broker.Result{}, err
	}
	return broker.Result{
		RequestID:  f["request_id"].GetStringValue(),
		Kind:       kind,
		Decision:   d,
		Remember:   scope,
		ResolvedBy: model.Source(f["resolved_by"].GetStringValue()),
		Reason:     f["reason"].GetStringValue(),
	}, nil
}

// EntriesToStruct encodes remembered answers for ListRemembered.
func EntriesToStruct(entries []remember.CachedDecision) (*structpb.Struct, error) {
	list := make([]any, len(entries))
	for i, e := range entries {
		list[i] = map[string]any{
			"kind":      string(e.Kind),
			"scope":     e.Scope.String(),
			"key":       e.Key,
			"action":    e.Action.String(),
			"value":     e.Value,
			"last_used": e.LastUsed.UTC().Format(time.RFC3339),
		}
	}
	return structpb.NewStruct(map[string]any{"entries": list})
}

// StructToEntries decodes a ListRemembered reply.
func StructToEntries(in *structpb.Struct) ([]remember.CachedDecision, error) {
	values := in.GetFields()["entries"].GetListValue().GetValues()
	out := make([]remember.CachedDecision, 0, len(values))
	for _, v := range values {
		f := v.GetStructValue().GetFields()
		scope, err := model.ParseRememberScope(f["scope"].GetStringValue())
		if err != nil {
			return nil, err
		}
		action, err := remember.ParseAction(f["action"].GetStringValue())
		if err != nil {
			return nil, err
		}
		lastUsed, _ := time.Parse(time.RFC3339, f["last_used"].GetStringValue())
		out = append(out, remember.CachedDecision{
			Kind:     model.Kind(f["kind"].GetStringValue()),
			Scope:    scope,
			Key:      f["key"].GetStringValue(),
			Action:   action,
			Value:    f["value"].GetStringValue(),
			LastUsed: lastUsed,
		})
	}
	return out, nil
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func listStrings(v *structpb.Value) []string {
	values := v.GetListValue().GetValues()
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, item := range values {
		out = append(out, item.GetStringValue())
	}
	return out
}

func certPEM(c *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})
}

func certsToPEM(certs []*x509.Certificate) []string {
	out := make([]string, len(certs))
	for i, c := range certs {
		out[i] = string(certPEM(c))
	}
	return out
}
