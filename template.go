package contactor

import "time"

// Template is a markdown email with a subject line.
// Both may carry [first_name] and [sender_name] placeholders.
type Template struct {
	Id string `sql:",pk" json:"id"`

	Name    string `sql:",notnull" json:"name"`
	Subject string `sql:",notnull" json:"subject"`
	Content string `sql:",notnull" json:"content"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Profile struct {
	Id string `sql:",pk" json:"id"`

	FullName     string `sql:",notnull" json:"fullName"`
	SMTPConfigId string `sql:"smtp_config_id,notnull" json:"smtpConfigId"`

	CreatedAt time.Time `json:"createdAt"`
}

type SMTPConfig struct {
	Id string `sql:",pk" json:"id"`

	Host     string `sql:",notnull" json:"host"`
	Port     int    `sql:",notnull" json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`

	// Secure selects implicit TLS; otherwise STARTTLS is used when offered.
	Secure bool `sql:",notnull" json:"secure"`

	FromEmail string `sql:",notnull" json:"fromEmail"`
	FromName  string `json:"fromName"`

	CreatedAt time.Time `json:"createdAt"`
}

// Message is a single rendered email on its way to a transport.
type Message struct {
	To      string     `json:"to"`
	Subject string     `json:"subject"`
	HTML    string     `json:"html"`
	Text    string     `json:"text"`
	Config  SMTPConfig `json:"smtpConfig"`
}
