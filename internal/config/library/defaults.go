package library

import (
	"os"

	"github.com/spf13/viper"
)

func GetDefault() BaseConfig {
	username := defaultUsername()

	return BaseConfig{
		ShutdownTimeout: "10s",

		Library: LibraryConfig{
			Root:            "data/library",
			Database:        "data/library/db.sqlite3",
			ImageExtensions: []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff"},
			ThumbnailDir:    ".thumbnails",
		},
		User: UserConfig{
			Username:    username,
			DisplayName: username,
		},
		Ingest: IngestConfig{
			Workers:  4,
			Debounce: "2s",
		},
		Log: LogConfig{
			Level:      "INFO",
			TimeFormat: "2006-01-02 15:04:05",
			File:       "",
			NoColor:    false,
			JSON:       false,
			NoTerminal: false,
			Rotation: LogRotationConfig{
				MaxSize:    128,
				MaxBackups: 5,
				MaxAge:     16,
				Compress:   false,
			},
		},
	}
}

func defaultUsername() string {
	for _, key := range []string{"USERNAME", "USER"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "local"
}

func setDefaults() {
	defaults := GetDefault()

	viper.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)

	viper.SetDefault("library.root", defaults.Library.Root)
	viper.SetDefault("library.database", defaults.Library.Database)
	viper.SetDefault("library.image_extensions", defaults.Library.ImageExtensions)
	viper.SetDefault("library.thumbnail_dir", defaults.Library.ThumbnailDir)

	viper.SetDefault("user.username", defaults.User.Username)
	viper.SetDefault("user.display_name", defaults.User.DisplayName)

	viper.SetDefault("ingest.workers", defaults.Ingest.Workers)
	viper.SetDefault("ingest.debounce", defaults.Ingest.Debounce)

	viper.SetDefault("metrics.file", defaults.Metrics.File)

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.time_format", defaults.Log.TimeFormat)
	viper.SetDefault("log.file", defaults.Log.File)
	viper.SetDefault("log.no_color", defaults.Log.NoColor)
	viper.SetDefault("log.json", defaults.Log.JSON)
	viper.SetDefault("log.no_terminal", defaults.Log.NoTerminal)
	viper.SetDefault("log.rotation.max_size", defaults.Log.Rotation.MaxSize)
	viper.SetDefault("log.rotation.max_backups", defaults.Log.Rotation.MaxBackups)
	viper.SetDefault("log.rotation.max_age", defaults.Log.Rotation.MaxAge)
	viper.SetDefault("log.rotation.compress", defaults.Log.Rotation.Compress)
}
