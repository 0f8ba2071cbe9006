package config

// NotifxConfig configures outbound email.
type NotifxConfig struct {
	// Provider is "console" or "ses".
	Provider    string `envconfig:"PROVIDER" default:"console"`
	FromAddress string `envconfig:"FROM_ADDRESS" default:"noreply@mavecms.local"`
	FromName    string `envconfig:"FROM_NAME" default:"Mave CMS"`
	AWSRegion   string `envconfig:"AWS_REGION" default:"us-east-1"`
	// FrontendURL is the base for links embedded in emails.
	FrontendURL string `envconfig:"FRONTEND_URL" default:"http://localhost:3000"`
}
