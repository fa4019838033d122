package internal

type SMTPConfigRequest struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Secure    bool   `json:"secure"`
	FromEmail string `json:"fromEmail"`
	FromName  string `json:"fromName"`
}

type SendEmailRequest struct {
	To         string            `json:"to"`
	Subject    string            `json:"subject"`
	Html       string            `json:"html"`
	Text       string            `json:"text"`
	SMTPConfig SMTPConfigRequest `json:"smtpConfig"`
}

type SendEmailResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type UpdateTemplateRequest struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Content string `json:"content"`
}

type BulkSendRequest struct {
	ProfileId      string `json:"profileId"`
	TemplateId     string `json:"templateId"`
	ReceiverListId string `json:"receiverListId"`
}

type SendTimesRequest struct {
	ReceiverListId string `json:"receiverListId"`
	SendTime       string `json:"sendTime"`
}
