package models

import (
	"log"

	"bitbucket.org/mmdatafocus/crm_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Funnel{}, &Stage{},
		&Lead{}, &LeadAttachment{}, &LeadHistory{}, &Comment{},
		&Contact{}, &Organization{}, &Activity{}, &Property{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
