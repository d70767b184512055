package models

import (
	"strings"
	"time"
)

// ContactPerson is the employer's point of contact.
type ContactPerson struct {
	Salutation string `json:"aanhef"`
	FirstName  string `json:"voornaam"`
	LastName   string `json:"achternaam"`
	Email      string `json:"email"`
}

// Employer is stored as a nested record on the client.
type Employer struct {
	Name          string        `json:"naam"`
	ContactPerson ContactPerson `json:"contactpersoon"`
	Address       string        `json:"adres"`
	Postcode      string        `json:"postcode"`
	City          string        `json:"plaats"`
}

// Client is a registered client of the office.
type Client struct {
	ID              string    `json:"id"`
	FirstName       string    `json:"voornaam"`
	LastName        string    `json:"achternaam"`
	Salutation      string    `json:"aanhef"`
	ReferenceNumber string    `json:"referentienummer"`
	Email           string    `json:"email"`
	Address         string    `json:"adres"`
	Postcode        string    `json:"postcode"`
	City            string    `json:"woonplaats"`
	Employer        Employer  `json:"werkgever"`
	CreatedAt       time.Time `json:"created_at"`
}

// FullName renders "<aanhef> <voornaam> <achternaam>" without empty parts.
func (c *Client) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{c.Salutation, c.FirstName, c.LastName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// ClientFormData is the flat record posted by the registration form.
type ClientFormData struct {
	FirstName         string `json:"voornaam"`
	LastName          string `json:"achternaam"`
	Salutation        string `json:"aanhef"`
	ReferenceNumber   string `json:"referentienummer"`
	Email             string `json:"email"`
	Address           string `json:"adres"`
	Postcode          string `json:"postcode"`
	City              string `json:"woonplaats"`
	EmployerName      string `json:"werkgever_naam"`
	ContactFirstName  string `json:"werkgever_contactpersoon_voornaam"`
	ContactLastName   string `json:"werkgever_contactpersoon_achternaam"`
	ContactSalutation string `json:"werkgever_contactpersoon_aanhef"`
	ContactEmail      string `json:"werkgever_contactpersoon_email"`
	EmployerAddress   string `json:"werkgever_adres"`
	EmployerPostcode  string `json:"werkgever_postcode"`
	EmployerCity      string `json:"werkgever_plaats"`
}

// Fields returns the form values keyed by their wire names, in form order.
func (f *ClientFormData) Fields() []FormField {
	return []FormField{
		{"voornaam", f.FirstName},
		{"achternaam", f.LastName},
		{"aanhef", f.Salutation},
		{"referentienummer", f.ReferenceNumber},
		{"email", f.Email},
		{"adres", f.Address},
		{"postcode", f.Postcode},
		{"woonplaats", f.City},
		{"werkgever_naam", f.EmployerName},
		{"werkgever_contactpersoon_voornaam", f.ContactFirstName},
		{"werkgever_contactpersoon_achternaam", f.ContactLastName},
		{"werkgever_contactpersoon_aanhef", f.ContactSalutation},
		{"werkgever_contactpersoon_email", f.ContactEmail},
		{"werkgever_adres", f.EmployerAddress},
		{"werkgever_postcode", f.EmployerPostcode},
		{"werkgever_plaats", f.EmployerCity},
	}
}

// FormField is a single named form value.
type FormField struct {
	Name  string
	Value string
}

// ToClient nests the flat form into the stored client shape.
func (f *ClientFormData) ToClient() *Client {
	return &Client{
		FirstName:       strings.TrimSpace(f.FirstName),
		LastName:        strings.TrimSpace(f.LastName),
		Salutation:      strings.TrimSpace(f.Salutation),
		ReferenceNumber: strings.TrimSpace(f.ReferenceNumber),
		Email:           strings.TrimSpace(f.Email),
		Address:         strings.TrimSpace(f.Address),
		Postcode:        strings.TrimSpace(f.Postcode),
		City:            strings.TrimSpace(f.City),
		Employer: Employer{
			Name: strings.TrimSpace(f.EmployerName),
			ContactPerson: ContactPerson{
				Salutation: strings.TrimSpace(f.ContactSalutation),
				FirstName:  strings.TrimSpace(f.ContactFirstName),
				LastName:   strings.TrimSpace(f.ContactLastName),
				Email:      strings.TrimSpace(f.ContactEmail),
			},
			Address:  strings.TrimSpace(f.EmployerAddress),
			Postcode: strings.TrimSpace(f.EmployerPostcode),
			City:     strings.TrimSpace(f.EmployerCity),
		},
	}
}
