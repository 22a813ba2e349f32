// Package resilience groups the fault tolerance building blocks of the
// template editor backend.
//
// The subpackages are:
//   - classify: maps any failure to one of ten categories with a user-facing message
//   - circuitbreaker: fails fast while the document backend or a backup store is degraded
//   - retry: attempt budgets and backoff shared by recovery and session refresh
//
// Usage Example:
//
//	cb := circuitbreaker.New(circuitbreaker.BackendAPIConfig())
//	err := cb.Call(ctx, func(ctx context.Context) error {
//	    return backend.Save(ctx, doc)
//	})
//	if err != nil {
//	    ce := classify.Classify(err, classify.ContextDocumentSave)
//	    log.Warn("save failed", slog.String("category", ce.Category.String()))
//	}
//
//	policy := retry.NewPolicy(retry.BackupStoreConfig()).
//	    WithRetryable(retry.ForCategories(classify.ContextBackup, classify.CategoryNetwork))
//	err = retry.Do(ctx, policy, func(ctx context.Context) error {
//	    return store.Write(ctx, rec)
//	})
package resilience
