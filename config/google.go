package config

import (
	"sync"
)

var (
	googleOnce   sync.Once
	googleConfig *GoogleConfig
)

type GoogleConfig struct {
	ClientID         string
	ClientSecret     string
	RedirectURL      string
	PostLoginURL     string
	Scopes           []string
	TemplateID       string
	SheetsRange      string
	TemplateFile     string
	SheetTitlePrefix string
	// SheetsEndpoint overrides the API base URL; empty means production.
	SheetsEndpoint string
	DriveEndpoint  string
}

func GetGoogleConfig() *GoogleConfig {
	googleOnce.Do(func() {
		loadEnv()

		googleConfig = &GoogleConfig{
			ClientID:     getString("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getString("GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:  getString("GOOGLE_REDIRECT_URL", "http://localhost:8080/api/v1/auth/callback"),
			PostLoginURL: getString("GOOGLE_POST_LOGIN_URL", "/"),
			Scopes: getList("GOOGLE_SCOPES", []string{
				"https://www.googleapis.com/auth/drive.appdata",
				"https://www.googleapis.com/auth/drive.file",
			}),
			TemplateID:       getString("SHEETS_TEMPLATE_ID", ""),
			SheetsRange:      getString("SHEETS_RANGE", "Sheet1!B2"),
			TemplateFile:     getString("SHEETS_TEMPLATE_FILE", ""),
			SheetTitlePrefix: getString("SHEETS_TITLE_PREFIX", "remi2AI"),
			SheetsEndpoint:   getString("SHEETS_ENDPOINT", ""),
			DriveEndpoint:    getString("DRIVE_ENDPOINT", ""),
		}
	})
	return googleConfig
}
