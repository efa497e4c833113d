package main

import (
	"context"
	"flag"
	"os"

	"crewcommand_backend/internal/followups/repository"
	"crewcommand_backend/internal/followups/templates"
	"crewcommand_backend/platform/config"
	"crewcommand_backend/platform/db"
	"crewcommand_backend/platform/logger"

	"github.com/google/uuid"
)

// Seeds the default follow-up templates into organizations that are missing
// them. Existing templates are never overwritten.
func main() {
	orgFlag := flag.String("org", "", "seed a single organization id (default: all)")
	fileFlag := flag.String("file", "", "YAML template file to seed instead of the built-in defaults")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting followup template seed")

	tpls, err := loadTemplates(*fileFlag)
	if err != nil {
		log.Error("failed to load templates", "file", *fileFlag, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	repo := repository.New(pool)

	var orgs []uuid.UUID
	if *orgFlag != "" {
		id, err := uuid.Parse(*orgFlag)
		if err != nil {
			log.Error("invalid organization id", "org", *orgFlag)
			os.Exit(2)
		}
		orgs = []uuid.UUID{id}
	} else {
		orgs, err = repo.OrganizationIDs(ctx)
		if err != nil {
			log.Error("failed to list organizations", "error", err)
			os.Exit(1)
		}
	}

	total := 0
	for _, org := range orgs {
		created, err := repo.SeedDefaultTemplates(ctx, org, tpls)
		if err != nil {
			log.Error("failed to seed organization", "organizationId", org, "error", err)
			continue
		}
		if created > 0 {
			log.Info("templates seeded", "organizationId", org, "created", created)
		}
		total += created
	}

	log.Info("followup template seed complete", "organizations", len(orgs), "created", total)
}

func loadTemplates(path string) ([]templates.Template, error) {
	if path == "" {
		return templates.Defaults()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return templates.Parse(data)
}
