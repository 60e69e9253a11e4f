// Package engine owns every long-lived resource the enclave needs across
// requests -- the PoolStore backend, the sealing root, the scratch
// directory, and the shared script runtime -- and serializes all
// operations through a single mutex, matching the single-threaded
// cooperative request loop spec.md §5 requires (driven by the embedded
// interpreter's single global lock and the desire to avoid ordering
// surprises between seal/unseal of the same pool).
package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Mindburn-Labs/enclave/pkg/artifacts"
	"github.com/Mindburn-Labs/enclave/pkg/drt"
	"github.com/Mindburn-Labs/enclave/pkg/errs"
	"github.com/Mindburn-Labs/enclave/pkg/jsonmerge"
	"github.com/Mindburn-Labs/enclave/pkg/poolstore"
	"github.com/Mindburn-Labs/enclave/pkg/scripthost"
	"github.com/Mindburn-Labs/enclave/pkg/sealing"
	"github.com/Mindburn-Labs/enclave/pkg/wasmhost"
)

// Engine holds every process-lifetime resource passed into the router at
// construction; cross-request state is limited to the PoolStore backend
// (pure I/O) and the ScriptHost's interpreter singleton, both owned here
// and never referred to via ambient/global state (spec.md §9).
type Engine struct {
	mu sync.Mutex

	sealer     *sealing.Core
	pools      poolstore.Backend
	fetcher    *artifacts.Fetcher
	wasmHost   *wasmhost.Host
	scriptHost *scripthost.Host
	authz      drt.Authorizer
}

// New builds an Engine from its already-constructed resources.
func New(sealer *sealing.Core, pools poolstore.Backend, fetcher *artifacts.Fetcher, authz drt.Authorizer) *Engine {
	return &Engine{
		sealer:     sealer,
		pools:      pools,
		fetcher:    fetcher,
		wasmHost:   wasmhost.NewHost(),
		scriptHost: scripthost.NewHost(),
		authz:      authz,
	}
}

// schemaKey derives the PoolStore key under which a pool's creation-time
// schema is sealed and stored alongside its data blob, so AppendData can
// later load it back out for a compatibility check.
func schemaKey(poolID string) string {
	return poolID + ".schema"
}

// isNotFound reports whether err is the PoolStore's "no blob at this key"
// error, as opposed to any other I/O or format failure.
func isNotFound(err error) bool {
	e, ok := errs.As(err)
	return ok && e.Code == "NotFound"
}

// CreatePool seals the initial document and stores it under poolID,
// rejecting if a pool already exists there. When schema is non-empty it is
// sealed and stored alongside the pool under a derived key, so a later
// AppendData can enforce schema compatibility against it; a pool created
// without a schema has nothing to check against, and AppendData skips the
// compatibility gate for it (see DESIGN.md's Open Question decisions).
func (e *Engine) CreatePool(ctx context.Context, poolID string, doc map[string]any, schema jsonmerge.Schema) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	exists, err := e.pools.Exists(ctx, poolID)
	if err != nil {
		return err
	}
	if exists {
		return errs.New(errs.Format, "PoolExists", "pool already exists")
	}

	if len(schema) > 0 {
		if err := jsonmerge.ValidateShape(schema); err != nil {
			return err
		}
	}

	blob, err := e.sealer.Seal(doc)
	if err != nil {
		return err
	}
	if err := e.pools.Put(ctx, poolID, blob); err != nil {
		return err
	}

	if len(schema) == 0 {
		return nil
	}
	schemaBlob, err := e.sealer.Seal(map[string]any(schema))
	if err != nil {
		return err
	}
	return e.pools.Put(ctx, schemaKey(poolID), schemaBlob)
}

// schemaCompatible reports whether schema is compatible with the schema
// recorded at create_data_pool time, per jsonmerge.SchemasCompatible. A pool
// with no recorded schema has nothing to gate on and is always compatible.
func (e *Engine) schemaCompatible(ctx context.Context, poolID string, schema jsonmerge.Schema) (bool, error) {
	blob, err := e.pools.Get(ctx, schemaKey(poolID))
	if err != nil {
		if isNotFound(err) {
			return true, nil
		}
		return false, err
	}
	stored, err := e.sealer.Unseal(blob)
	if err != nil {
		return false, err
	}
	return jsonmerge.SchemasCompatible(jsonmerge.Schema(stored), schema), nil
}

// AppendData validates the caller's schema, checks it against the schema
// recorded at create_data_pool time, unseals the current pool, merges,
// reseals, and stores -- all inside the single request-serializing lock, so
// a failed append (whether from an incompatible schema or a merge failure)
// leaves the previous sealed blob untouched (PoolStore.Put is atomic, and
// nothing is written until the merge succeeds).
func (e *Engine) AppendData(ctx context.Context, poolID string, doc map[string]any, schema jsonmerge.Schema) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := jsonmerge.ValidateShape(schema); err != nil {
		return err
	}

	compatible, err := e.schemaCompatible(ctx, poolID, schema)
	if err != nil {
		return err
	}
	if !compatible {
		return errs.New(errs.Format, "MergeShape", "append schema is not compatible with the pool's recorded schema")
	}

	blob, err := e.pools.Get(ctx, poolID)
	if err != nil {
		return err
	}
	current, err := e.sealer.Unseal(blob)
	if err != nil {
		return err
	}

	merged, err := jsonmerge.Append(current, doc)
	if err != nil {
		return err
	}

	newBlob, err := e.sealer.Seal(merged)
	if err != nil {
		return err
	}
	return e.pools.Put(ctx, poolID, newBlob)
}

// ViewPool unseals and returns the plaintext pool. Only reachable when the
// router is built with the debugview tag (spec.md §4.7).
func (e *Engine) ViewPool(ctx context.Context, poolID string) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	blob, err := e.pools.Get(ctx, poolID)
	if err != nil {
		return nil, err
	}
	return e.sealer.Unseal(blob)
}

// ExecuteWasm fetches and verifies the module, unseals the pool, runs it
// under WasmHost, and returns the aggregate.
func (e *Engine) ExecuteWasm(ctx context.Context, poolID, sourceURL, expectedSHA256 string, schema jsonmerge.Schema) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	handle, err := e.fetcher.Fetch(ctx, artifacts.Request{
		SourceURL:      sourceURL,
		ExpectedSHA256: expectedSHA256,
		Kind:           artifacts.KindWasm,
	})
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	blob, err := e.pools.Get(ctx, poolID)
	if err != nil {
		return nil, err
	}
	pool, err := e.sealer.Unseal(blob)
	if err != nil {
		return nil, err
	}

	dataJSON, err := json.Marshal(pool)
	if err != nil {
		return nil, errs.Wrap(errs.Format, "WasmInputFormat", err)
	}
	schemaJSON, err := json.Marshal(map[string]any(schema))
	if err != nil {
		return nil, errs.Wrap(errs.Format, "WasmSchemaFormat", err)
	}

	return e.wasmHost.Run(ctx, handle.Bytes, dataJSON, schemaJSON)
}

// ExecuteScript fetches and verifies the script, unseals the pool, runs it
// under ScriptHost, and returns the aggregate. The script form does not
// consume a schema (spec.md §9 open question, resolved in DESIGN.md).
func (e *Engine) ExecuteScript(ctx context.Context, poolID, sourceURL, expectedSHA256 string) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	handle, err := e.fetcher.Fetch(ctx, artifacts.Request{
		SourceURL:      sourceURL,
		ExpectedSHA256: expectedSHA256,
		Kind:           artifacts.KindScript,
	})
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	blob, err := e.pools.Get(ctx, poolID)
	if err != nil {
		return nil, err
	}
	pool, err := e.sealer.Unseal(blob)
	if err != nil {
		return nil, err
	}

	return e.scriptHost.Run(string(handle.Bytes), pool)
}

// CheckDRT delegates to the configured Authorizer.
func (e *Engine) CheckDRT(ctx context.Context, poolID string, kind drt.Kind) (drt.Receipt, error) {
	return e.authz.CheckDRT(ctx, poolID, kind)
}
