// Package hookctl is the library API for embedding declarative lifecycle
// hooks in a host application.
//
// It wraps the registry, manifest loader, usage auditor, purge pipeline and
// trash into one Client bound to a project root.
//
// # Concurrency Safety
//
//   - Register, Trigger and BindManifest are safe for concurrent use.
//
//   - Purge, Sweep and Restore take the project lock, so two processes cannot
//     retire files from the same project at the same time. A second caller
//     fails with E_LOCK_CONFLICT instead of waiting.
//
//   - Hooks compiled into the host are found before plugins and executables.
//     Register them on the Catalog passed in OpenOptions.
//
// # Usage
//
//	catalog := hookctl.Catalog{}
//	catalog.Add("seed", func(ctx context.Context, ec hookctl.ExecutionContext) error {
//	    return seedPages(ctx, ec.Role)
//	})
//
//	client, err := hookctl.Open(projectRoot, hookctl.OpenOptions{Catalog: catalog})
//	unbind, results, err := client.BindManifest("src/manifests/pages.yaml")
//	defer unbind()
//	err = client.Trigger(ctx, hookctl.OnInit, hookctl.ExecutionContext{})
//
//	// Housekeeping, usually from a maintenance job
//	report, err := client.Audit(ctx, true)
//	summary, err := client.Purge(ctx, hookctl.PurgeOptions{Role: "admin", Force: true})
package hookctl
