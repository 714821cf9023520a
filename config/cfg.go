package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"

	"github.com/rupor-github/gencfg"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

type (
	TemplateFieldName string

	ImagesConfig struct {
		MinSize        int  `yaml:"min_size" validate:"gte=1"`
		CheckDecodable bool `yaml:"check_decodable"`
		MaxHeight      int  `yaml:"max_height" validate:"gte=0"`
		JPEGQuality    int  `yaml:"jpeq_quality_level" validate:"min=40,max=100"`
	}

	SanitizeConfig struct {
		MinLength   int     `yaml:"min_length" validate:"gte=1"`
		Base64Ratio float64 `yaml:"base64_ratio" validate:"gt=0.0,lte=1.0"`
	}

	MergeConfig struct {
		IDPrefix              string `yaml:"id_prefix" validate:"required"`
		IDDigits              int    `yaml:"id_digits" validate:"min=1,max=12"`
		DefaultTitle          string `yaml:"default_title" validate:"required"`
		AuthorFirstName       string `yaml:"author_first_name"`
		AuthorLastName        string `yaml:"author_last_name" validate:"required"`
		Genre                 string `yaml:"genre"`
		AnnotationTemplate    string `yaml:"annotation_template"`
		FailedNoticeTemplate  string `yaml:"failed_notice_template" validate:"required"`
		MissingNoticeTemplate string `yaml:"missing_notice_template" validate:"required"`
		SectionTitles         bool   `yaml:"section_titles"`
		PrefixIDs             bool   `yaml:"prefix_ids"`
		BinariesFirst         bool   `yaml:"binaries_first"`
	}

	DocumentConfig struct {
		Encodings             []string       `yaml:"encodings" validate:"min=1,dive,required"`
		Markers               []string       `yaml:"markers" validate:"min=1,dive,required"`
		KeepInMemory          bool           `yaml:"keep_in_memory"`
		Untitled              string         `yaml:"untitled" validate:"required"`
		OutputNameTemplate    string         `yaml:"output_name_template"`
		FileNameTransliterate bool           `yaml:"file_name_transliterate"`
		Images                ImagesConfig   `yaml:"images"`
		Sanitize              SanitizeConfig `yaml:"sanitize"`
		Merge                 MergeConfig    `yaml:"merge"`
	}

	Config struct {
		Version   int            `yaml:"version" validate:"eq=1"`
		Document  DocumentConfig `yaml:"document"`
		Logging   LoggingConfig  `yaml:"logging"`
		Reporting ReporterConfig `yaml:"reporting"`
	}
)

const (
	// NOTE: must match yaml field name above, alternative is to use struct
	// field name and reflection which I want to avoid for now
	OutputNameTemplateFieldName    TemplateFieldName = "output_name_template"
	AnnotationTemplateFieldName    TemplateFieldName = "annotation_template"
	FailedNoticeTemplateFieldName  TemplateFieldName = "failed_notice_template"
	MissingNoticeTemplateFieldName TemplateFieldName = "missing_notice_template"
)

var requiredOptions = append([]func(*gencfg.ProcessingOptions){},
	gencfg.WithDoNotExpandField(string(OutputNameTemplateFieldName)),
	gencfg.WithDoNotExpandField(string(AnnotationTemplateFieldName)),
	gencfg.WithDoNotExpandField(string(FailedNoticeTemplateFieldName)),
	gencfg.WithDoNotExpandField(string(MissingNoticeTemplateFieldName)),
)

func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	// We want to use only fields we defined so we cannot use yaml.Unmarshal
	// directly here
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if process {
		// sanitize and validate what has been loaded
		if err := gencfg.Sanitize(cfg); err != nil {
			return nil, fmt.Errorf("failed to sanitize configuration: %w", err)
		}
		if err := gencfg.Validate(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration from the file at the given path,
// superimposes its values on top of expanded configuration tamplate to provide
// sane defaults and performs validation.
func LoadConfiguration(path string, options ...func(*gencfg.ProcessingOptions)) (*Config, error) {
	haveFile := len(path) > 0

	data, err := gencfg.Process(ConfigTmpl, append(requiredOptions, options...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	cfg, err := unmarshalConfig(data, &Config{}, !haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	if !haveFile {
		return cfg, nil
	}

	// overwrite cfg values with values from the file
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err = unmarshalConfig(data, cfg, haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	return cfg, nil
}

// Prepare generates configuration file from template and returns it as a byte
// slice.
func Prepare() ([]byte, error) {
	return gencfg.Process(ConfigTmpl, requiredOptions...)
}

func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %v", err)
	}
	return data, nil
}
