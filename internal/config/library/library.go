package library

// LibraryConfig describes where the library lives on disk.
type LibraryConfig struct {
	Root            string   `mapstructure:"root"             yaml:"root"             validate:"required"`
	Database        string   `mapstructure:"database"         yaml:"database"         validate:"required"`
	ImageExtensions []string `mapstructure:"image_extensions" yaml:"image_extensions" validate:"required,min=1,dive,startswith=."`
	ThumbnailDir    string   `mapstructure:"thumbnail_dir"    yaml:"thumbnail_dir"`
}

// UserConfig identifies the local annotator. No authentication is involved.
type UserConfig struct {
	Username    string `mapstructure:"username"     yaml:"username"     validate:"required"`
	DisplayName string `mapstructure:"display_name" yaml:"display_name"`
}

type IngestConfig struct {
	Workers  int    `mapstructure:"workers"  yaml:"workers"  validate:"min=1,max=64"`
	Debounce string `mapstructure:"debounce" yaml:"debounce"`
}

type MetricsConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}
