package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env          string        `yaml:"env" env:"ENV" env-default:"local" env-description:"Environment" env-choices:"local,dev,prod"`
	ApiPort      int           `yaml:"api_port" env:"API_PORT" env-default:"8080"`
	ApiHost      string        `yaml:"api_host" env:"API_HOST" env-default:"localhost"`
	FrontendURL  string        `yaml:"frontend_url" env:"FRONTEND_URL" env-default:"https://senior-frontend-eta.vercel.app"`
	StoreTimeout time.Duration `yaml:"store_timeout" env:"STORE_TIMEOUT" env-default:"3s"`
	Postgres     `yaml:"postgres"`
	JWT          JWT      `yaml:"jwt"`
	Notifier     Notifier `yaml:"notifier"`
	SMTP         SMTP     `yaml:"smtp"`
	NATS         NATS     `yaml:"nats"`
	Redis        Redis    `yaml:"redis"`
}

type Postgres struct {
	Host string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port string `yaml:"port" env:"POSTGRES_PORT" env-default:"5433"`
	User string `yaml:"user" env:"POSTGRES_USER" env-default:"test"`
	Pass string `yaml:"pass" env:"POSTGRES_PASS" env-default:"12345"`
	Db   string `yaml:"db" env:"POSTGRES_DB" env-default:"test_db"`
}

type JWT struct {
	Secret string        `yaml:"secret" env:"JWT_SECRET" env-default:"secret42212"`
	TTL    time.Duration `yaml:"ttl" env:"JWT_TTL" env-default:"168h"`
}

// Notifier selects how barter e-mails leave the API process.
type Notifier struct {
	Transport   string        `yaml:"transport" env:"NOTIFIER_TRANSPORT" env-default:"log" env-choices:"log,smtp,nats"`
	Workers     int           `yaml:"workers" env:"NOTIFIER_WORKERS" env-default:"4"`
	QueueSize   int           `yaml:"queue_size" env:"NOTIFIER_QUEUE_SIZE" env-default:"256"`
	SendTimeout time.Duration `yaml:"send_timeout" env:"NOTIFIER_SEND_TIMEOUT" env-default:"15s"`
}

type SMTP struct {
	Host string `yaml:"host" env:"SMTP_HOST" env-default:"smtp.gmail.com"`
	Port int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	User string `yaml:"user" env:"SMTP_USER"`
	Pass string `yaml:"pass" env:"SMTP_PASS"`
	From string `yaml:"from" env:"SMTP_FROM"`
}

type NATS struct {
	URL        string `yaml:"url" env:"NATS_URL" env-default:"nats://localhost:4222"`
	Stream     string `yaml:"stream" env:"NATS_STREAM" env-default:"NOTIFICATIONS"`
	Subject    string `yaml:"subject" env:"NATS_SUBJECT" env-default:"notifications.email"`
	Durable    string `yaml:"durable" env:"NATS_DURABLE" env-default:"mailer"`
	MaxDeliver int    `yaml:"max_deliver" env:"NATS_MAX_DELIVER" env-default:"5"`
}

type Redis struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Pass string `yaml:"pass" env:"REDIS_PASS"`
	DB   int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// InflightTTL bounds how long a claimed but unconfirmed job blocks redelivery.
	InflightTTL time.Duration `yaml:"inflight_ttl" env:"REDIS_INFLIGHT_TTL" env-default:"2m"`
	DedupTTL    time.Duration `yaml:"dedup_ttl" env:"REDIS_DEDUP_TTL" env-default:"72h"`
}

func MustLoad() *Config {
	return MustLoadPath(fetchConfigPath())
}

func MustLoadPath(path string) *Config {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file does not exist: " + path)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		panic("Failed to read config" + err.Error())
	}

	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
