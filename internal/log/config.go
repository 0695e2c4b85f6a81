package log

type Config struct {
	Level     string           `mapstructure:"level" yaml:"level"`
	Pattern   string           `mapstructure:"pattern" yaml:"pattern"`
	Time      string           `mapstructure:"time" yaml:"time"`
	Appenders []AppenderConfig `mapstructure:"appenders" yaml:"appenders"`
}

type AppenderConfig struct {
	Type string          `mapstructure:"type" yaml:"type"` // console | file
	File FileAppenderOpt `mapstructure:"file" yaml:"file"`
}

type FileAppenderOpt struct {
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

func defaultConfig() *Config {
	return &Config{
		Level:     "info",
		Pattern:   "%time [%level] %msg%field%n",
		Time:      "2006-01-02 15:04:05.000",
		Appenders: []AppenderConfig{{Type: "console"}},
	}
}
