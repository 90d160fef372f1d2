// Package pack reads, edits and writes Pack archives and the database tables
// they carry, and checks those tables against the game data they depend on.
//
// This package is the entry point for tools built on the module. It wraps the
// lower-level packages:
//   - [core]: the container codec (every header revision, encrypted and
//     compressed payloads, lazy loading)
//   - [schema]: versioned table definitions with a patch overlay
//   - [table]: DB and Loc table decoding and encoding
//   - [deps]: the tiered dependency cache references are resolved against
//   - [diagnostics]: the rule engine that reports problems in tables
//
// # Quick Start
//
// Open an archive and decode its tables:
//
//	a, err := pack.OpenFile("mymod.pack")
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	schemas, err := pack.LoadSchema(schemaTOML, patchesTOML)
//	if err != nil {
//	    return err
//	}
//	for _, p := range pack.ListEntries(a) {
//	    data, err := pack.GetEntry(a, p)
//	    if err != nil {
//	        return err
//	    }
//	    d := pack.DecodeTable(p, data, schemas)
//	    ...
//	}
//
// # Dependencies and diagnostics
//
// Build the dependency cache from the game's archives and run diagnostics on
// the decoded tables:
//
//	cache, err := pack.BuildDependencyCache(ctx, schemas, "warhammer_3", pack.ArchiveSet{
//	    Current: a,
//	    Vanilla: []string{"/games/wh3/data/data.pack"},
//	})
//	if err != nil {
//	    return err
//	}
//	findings, err := pack.RunDiagnostics(ctx, targets, cache, nil)
//
// Long-lived sessions that rebuild the cache while readers are active should
// use [deps.Manager] directly.
package pack
