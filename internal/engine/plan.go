// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine builds submission previews.
package engine

import (
	"github.com/flowd-org/kfpt/internal/argsloader"
	"github.com/flowd-org/kfpt/internal/dispatch"
	"github.com/flowd-org/kfpt/internal/events"
	"github.com/flowd-org/kfpt/internal/kfp"
	"github.com/flowd-org/kfpt/internal/pipeline"
	"github.com/flowd-org/kfpt/internal/types"
)

// SecretFields lists the client settings replaced with "[secret]" in plans.
var SecretFields = map[string]struct{}{"other_client_secret": {}}

// BuildPlan describes what Submit would do with req without contacting a
// backend. p may be nil when the artifact was not parsed.
// Secrets are redacted (replaced with "[secret]").
func BuildPlan(req dispatch.Request, p *pipeline.Pipeline) types.Plan {
	plan := types.Plan{
		Target:        req.Target(),
		PipelineFile:  req.PipelineFile,
		RunName:       req.RunName,
		Experiment:    req.ExperimentName,
		EnableCaching: req.EnableCaching,
	}
	if p != nil {
		plan.Pipeline = p.Name
		plan.Parameters = PlanParameters(p)
	}
	if len(req.Arguments) > 0 {
		plan.Arguments = make(map[string]any, len(req.Arguments))
		for k, v := range req.Arguments {
			plan.Arguments[k] = v
		}
	}

	client := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			client[k] = v
		}
	}
	set("pipeline_root", req.PipelineRoot)
	set("service_account", req.ServiceAccount)
	if plan.Target == kfp.Target {
		namespace := req.APINamespace
		if namespace == "" {
			namespace = kfp.DefaultNamespace
		}
		set("endpoint", req.Endpoint)
		set("iap_client_id", req.IAPClientID)
		set("api_namespace", namespace)
		set("other_client_id", req.OtherClientID)
		set("other_client_secret", req.OtherClientSecret)
		set("namespace", req.Namespace)
	} else {
		plan.Labels = req.JobLabels()
		set("project", req.Project)
		set("location", req.Location)
		set("network", req.Network)
		set("encryption_spec_key_name", req.EncryptionSpecKeyName)
	}
	plan.Client = events.RedactSecrets(client, SecretFields)
	return plan
}

// PlanParameters lists the parameters of p with the flags that set them.
func PlanParameters(p *pipeline.Pipeline) []types.PlanParameter {
	out := make([]types.PlanParameter, 0, len(p.Parameters))
	for _, param := range p.Parameters {
		pp := types.PlanParameter{
			Name:     param.Name,
			Flag:     argsloader.FlagName(param.Name),
			Type:     param.Type.String(),
			Required: param.Required(),
		}
		if def, err := param.TypedDefault(); err == nil && def != nil {
			pp.Default = def.Interface()
		} else if param.Default != nil {
			pp.Default = param.Default.Interface()
		}
		out = append(out, pp)
	}
	return out
}
