package config

import "os"

type Config struct {
	StorageDriver  string
	StorageDSN     string
	ListenAddr     string
	AutoMigrate    bool
	TariffPDFPath  string
	WorkerInterval string
}

// FromEnv builds a Config from environment variables, with sane defaults.
func FromEnv() Config {
	driver := os.Getenv("STORAGE_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	dsn := os.Getenv("STORAGE_DSN")
	if dsn == "" && driver == "sqlite" {
		dsn = "waterbilling.db"
	}
	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	pdfPath := os.Getenv("TARIFF_PDF_PATH")
	if pdfPath == "" {
		pdfPath = "/data/tariff_schedule.pdf"
	}
	interval := os.Getenv("WORKER_INTERVAL")
	if interval == "" {
		interval = "86400"
	}
	return Config{
		StorageDriver:  driver,
		StorageDSN:     dsn,
		ListenAddr:     addr,
		AutoMigrate:    os.Getenv("AUTO_MIGRATE") != "false",
		TariffPDFPath:  pdfPath,
		WorkerInterval: interval,
	}
}
