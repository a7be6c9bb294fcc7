package infra

import (
	"context"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// VaultDB wraps the throwaway Postgres container backing a stress run. The
// zero value stands for an external database the run must not terminate.
type VaultDB struct {
	C *postgres.PostgresContainer
}

// StartPostgres provisions a Postgres 16 container for the custody suite
// and returns its DSN. An overrideDSN argument or CARVAULT_STRESS_DSN in
// the environment short-circuits the container and reuses that database.
func StartPostgres(ctx context.Context, overrideDSN string) (*VaultDB, string, error) {
	if overrideDSN != "" {
		return &VaultDB{}, overrideDSN, nil
	}
	if dsn := os.Getenv("CARVAULT_STRESS_DSN"); dsn != "" {
		return &VaultDB{}, dsn, nil
	}

	pgC, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("carvault"),
		postgres.WithUsername("vault"),
		postgres.WithPassword("vaultpass"),
	)
	if err != nil {
		return nil, "", err
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", err
	}
	return &VaultDB{C: pgC}, dsn, nil
}

// Terminate tears the container down; external databases are left alone.
func (v *VaultDB) Terminate(ctx context.Context) error {
	if v == nil || v.C == nil {
		return nil
	}
	return v.C.Terminate(ctx)
}
