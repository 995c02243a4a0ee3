package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cruciblehq/devimg/internal/config"
	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Image config labels written on export.
const (
	LabelPackage   = "dev.devimg.package"
	LabelSource    = "dev.devimg.source"
	LabelInstaller = "dev.devimg.installer"
	LabelBuild     = "dev.devimg.build"
)

// Controls a pipeline run.
type Options struct {
	ID      string         // Build identifier. Generated when empty.
	Config  *config.Config // Validated build configuration.
	Context string         // Build context directory on the host.
	Cache   Cache          // Layer cache. Nil disables caching entirely.
	NoCache bool           // Skip cache lookups; successful steps are still stored.
}

// Returned after a successful build.
type Result struct {
	Env    Env    `json:"env"`    // Final handle, in [StatePackageInstalled].
	Output string `json:"output"` // Path of the exported image archive.
}

// Executes the pipeline against sess and exports the image.
//
// Steps run strictly in order; each one starts only after its predecessor
// has returned a handle. The first failure stops the run and is returned as
// a [*StepError]. Nothing is exported unless every step succeeded.
func Run(ctx context.Context, sess Session, opts Options) (*Result, error) {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	cfg := opts.Config
	steps := Steps(cfg, NewLazySnapshot(opts.Context, cfg.Source))
	env := NewEnv(opts.ID)

	slog.Info("starting build",
		"id", opts.ID,
		"base", cfg.Base,
		"platform", cfg.Platform,
		"context", opts.Context,
		"cache", opts.Cache != nil && !opts.NoCache,
	)

	r := &runner{sess: sess, opts: opts}
	for _, step := range steps {
		next, err := r.step(ctx, step, env)
		if err != nil {
			failed := env.fail()
			slog.Error("step failed", "id", opts.ID, "step", step.Name(), "state", env.State, "error", err)
			return nil, &StepError{Step: step.Name(), State: env.State, Env: failed, Err: err}
		}
		env = next
	}

	output, err := sess.Export(ctx, ExportOptions{
		Output:  cfg.Output,
		Tag:     cfg.Tag,
		Workdir: env.Workdir,
		Layers:  env.Layers,
		Labels:  labels(env),
	})
	if err != nil {
		return nil, &StepError{Step: "export", State: env.State, Env: env, Err: crex.Wrap(ErrExport, err)}
	}

	slog.Info("build complete", "id", opts.ID, "output", output, "layers", len(env.Layers))

	return &Result{Env: env, Output: output}, nil
}

// Holds what is shared by all steps of one run.
type runner struct {
	sess Session
	opts Options
}

// Executes a single step, or restores it from the cache.
func (r *runner) step(ctx context.Context, step Step, env Env) (Env, error) {
	if err := ctx.Err(); err != nil {
		return Env{}, err
	}

	target, ok := env.State.Next()
	if !ok || target != step.Target() {
		return Env{}, fmt.Errorf("step %s cannot start in state %s", step.Name(), env.State)
	}

	logger := slog.With("id", env.ID, "step", step.Name())
	logger.Info("running step", "instruction", step.Instruction())

	if !step.Layered() {
		next, err := r.attempt(ctx, step, env)
		if err != nil {
			return Env{}, err
		}
		next.State = step.Target()
		return next, nil
	}

	fp, err := step.Fingerprint(env)
	if err != nil {
		return Env{}, crex.Wrap(ErrIO, err)
	}
	key := ChainKey(env.CacheKey, step.Name(), fp)

	if next, ok, err := r.restore(ctx, env, key); err != nil {
		return Env{}, err
	} else if ok {
		logger.Info("restored step from cache", "key", key)
		return next, nil
	}

	next, err := r.attempt(ctx, step, env)
	if err != nil {
		return Env{}, err
	}

	layer, err := r.sess.Commit(ctx, step.Name(), step.Instruction())
	if err != nil {
		if step.Name() == StepSource {
			return Env{}, crex.Wrap(ErrIO, err)
		}
		return Env{}, crex.Wrap(ErrRuntime, err)
	}
	logger.Debug("committed layer", "diffID", layer.DiffID, "size", layer.Size)

	next = next.withLayer(layer)
	next.State = step.Target()
	next.CacheKey = key

	r.store(ctx, step, next, layer)

	return next, nil
}

// Runs the step under its timeout, retrying network failures as configured.
func (r *runner) attempt(ctx context.Context, step Step, env Env) (Env, error) {
	retry := r.opts.Config.Retry

	var next Env
	op := func() error {
		actx, cancel := ctx, context.CancelFunc(func() {})
		if step.Timeout() > 0 {
			actx, cancel = context.WithTimeout(ctx, step.Timeout())
		}
		defer cancel()

		out, err := step.Run(actx, env, r.sess)
		if err != nil {
			if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
				err = crex.Wrapf(ErrNetwork, "%s timed out after %s", step.Name(), step.Timeout())
			}
			if step.Network() && errors.Is(err, ErrNetwork) {
				return err
			}
			return backoff.Permanent(err)
		}

		next = out
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(retry.Interval), uint64(retry.Attempts)),
		ctx,
	)

	notify := func(err error, wait time.Duration) {
		slog.Warn("retrying step", "id", env.ID, "step", step.Name(), "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return Env{}, err
	}
	return next, nil
}

// Restores a step from the cache when an entry exists and the session can
// reuse it. A miss is not an error.
func (r *runner) restore(ctx context.Context, env Env, key digest.Digest) (Env, bool, error) {
	if r.opts.Cache == nil || r.opts.NoCache {
		return Env{}, false, nil
	}

	restorer, ok := r.sess.(Restorer)
	if !ok {
		return Env{}, false, nil
	}

	entry, err := r.opts.Cache.Lookup(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			slog.Warn("cache lookup failed", "key", key, "error", err)
		}
		return Env{}, false, nil
	}

	if err := restorer.Restore(ctx, entry.Layer); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			slog.Debug("cached layer is gone", "key", key, "snapshot", entry.Layer.Snapshot)
			return Env{}, false, nil
		}
		return Env{}, false, crex.Wrap(ErrRuntime, err)
	}

	layer := entry.Layer
	layer.Cached = true

	next := entry.Env.clone()
	next.ID = env.ID
	next.FailedAt = ""
	next.Layers = append(env.clone().Layers, layer)
	next.CacheKey = key

	return next, true, nil
}

// Records a completed step. Failures only cost a future cache hit.
func (r *runner) store(ctx context.Context, step Step, env Env, layer Layer) {
	if r.opts.Cache == nil {
		return
	}

	now := time.Now().UTC()
	entry := &CacheEntry{
		Key:       env.CacheKey,
		Step:      step.Name(),
		Layer:     layer,
		Env:       env,
		CreatedAt: now,
		UsedAt:    now,
	}
	if err := r.opts.Cache.Store(ctx, entry); err != nil {
		slog.Warn("cache store failed", "step", step.Name(), "error", err)
	}
}

// Returns the image config labels describing the build.
func labels(env Env) map[string]string {
	l := map[string]string{
		ocispec.AnnotationBaseImageName: env.Base.Ref,
		LabelSource:                     env.Source.String(),
		LabelInstaller:                  env.Installer,
		LabelBuild:                      env.ID,
	}
	if env.Base.Digest != "" {
		l[ocispec.AnnotationBaseImageDigest] = env.Base.Digest.String()
	}
	if env.Package != nil {
		l[LabelPackage] = env.Package.Name + "==" + env.Package.Version
	}
	return l
}
