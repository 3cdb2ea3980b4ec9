package config

import "testing"

func TestApplyEnv(t *testing.T) {
	t.Run("overrides database and bucket settings", func(t *testing.T) {
		t.Setenv(EnvDatabaseHost, "pg.internal")
		t.Setenv(EnvDatabasePort, "6543")
		t.Setenv(EnvDatabaseUser, "ocr")
		t.Setenv(EnvDatabasePassword, "pw")
		t.Setenv(EnvDatabaseName, "ocrdb")
		t.Setenv(EnvBucket, "archives")
		t.Setenv(EnvOutputDir, "/srv/out")

		cfg := NewConfig("/data")
		if err := ApplyEnv(cfg); err != nil {
			t.Fatalf("ApplyEnv() error = %v", err)
		}

		if cfg.Database.Host != "pg.internal" {
			t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "pg.internal")
		}
		if cfg.Database.Port != 6543 {
			t.Errorf("Database.Port = %d, want 6543", cfg.Database.Port)
		}
		if cfg.Database.User != "ocr" || cfg.Database.Password != "pw" || cfg.Database.Name != "ocrdb" {
			t.Errorf("Database = %+v, want credentials from env", cfg.Database)
		}
		if cfg.Database.Type != "sqlite" {
			t.Errorf("Database.Type = %q, want unchanged sqlite", cfg.Database.Type)
		}
		if cfg.ObjectStore.Bucket != "archives" {
			t.Errorf("ObjectStore.Bucket = %q, want %q", cfg.ObjectStore.Bucket, "archives")
		}
		if cfg.OutputDir != "/srv/out" {
			t.Errorf("OutputDir = %q, want %q", cfg.OutputDir, "/srv/out")
		}
	})

	t.Run("empty values leave config untouched", func(t *testing.T) {
		t.Setenv(EnvDatabaseHost, "")
		cfg := NewConfig("/data")
		cfg.Database.Host = "from-file"

		if err := ApplyEnv(cfg); err != nil {
			t.Fatalf("ApplyEnv() error = %v", err)
		}
		if cfg.Database.Host != "from-file" {
			t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "from-file")
		}
	})

	t.Run("rejects non-numeric port", func(t *testing.T) {
		t.Setenv(EnvDatabasePort, "five")
		if err := ApplyEnv(NewConfig("/data")); err == nil {
			t.Fatal("ApplyEnv() expected error for invalid port")
		}
	})
}
