package pipeline

import (
	"sort"

	"github.com/gantryci/gantry/internal/config"
)

// Plan is the fully expanded run plan for one pipeline execution.
type Plan struct {
	Name string
	Jobs []Job

	baseEnv map[string]string
}

// FromConfig expands a validated descriptor into a run plan. Matrix order is
// preserved; it determines which failing job's exit code wins when several
// required jobs fail.
func FromConfig(cfg *config.Config) *Plan {
	jobs := make([]Job, 0, len(cfg.Matrix))
	for _, jc := range cfg.Matrix {
		jobs = append(jobs, NewJob(jc))
	}

	base := make(map[string]string, len(cfg.Env))
	for k, v := range cfg.Env {
		base[k] = v
	}

	return &Plan{
		Name:    cfg.Pipeline.Name,
		Jobs:    jobs,
		baseEnv: base,
	}
}

// BaseEnv returns a copy of the pipeline-wide environment.
func (p *Plan) BaseEnv() map[string]string {
	out := make(map[string]string, len(p.baseEnv))
	for k, v := range p.baseEnv {
		out[k] = v
	}
	return out
}

// JobEnv composes the effective environment for a job: pipeline env, then the
// job overlay, then isolation overrides supplied by the orchestrator
// (rewritten database URLs, per-job target dir). Later layers win.
func (p *Plan) JobEnv(job Job, overrides map[string]string) map[string]string {
	env := p.BaseEnv()
	for k, v := range job.Env() {
		env[k] = v
	}
	for k, v := range overrides {
		env[k] = v
	}
	return env
}

// EnvList flattens an environment map into "KEY=VALUE" form with stable
// ordering, suitable for exec.Cmd.Env.
func EnvList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
