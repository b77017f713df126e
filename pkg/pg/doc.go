// Package pg wires PostgreSQL through pgx/v5: a pool opened with retry
// (Connect), goose migrations read from an embedded filesystem (Migrate), a
// transaction helper (WithTx), a health check, and helpers that classify
// *pgconn.PgError values by SQLSTATE.
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, migrations.FS, cfg, log); err != nil {
//		return err
//	}
package pg
