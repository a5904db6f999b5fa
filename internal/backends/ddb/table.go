package ddb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
)

const (
	SCache = "CACHE"
	SCount = "COUNT"
	SRate  = "RATE"
	SWin   = "WIN"

	// expiresAttr holds epoch seconds and is meant to be the table's native TTL attribute.
	expiresAttr = "expires_at"
)

func pkCache(key string) string       { return fmt.Sprintf("%s#%s", SCache, key) }
func skEntry() string                 { return "ENTRY" }
func pkCount(key string) string       { return fmt.Sprintf("%s#%s", SCount, key) }
func skValue() string                 { return "VALUE" }
func pkRate(scope string) string      { return fmt.Sprintf("%s#%s", SRate, scope) }
func skRateWin(epochMin int64) string { return fmt.Sprintf("%s#%d", SWin, epochMin) }

func createTableIfNotExists(client *dynamodb.Client, table string) {
	_, err := client.CreateTable(context.Background(), &dynamodb.CreateTableInput{
		TableName: &table,
		AttributeDefinitions: []ddbTypes.AttributeDefinition{
			{AttributeName: awsString("PK"), AttributeType: ddbTypes.ScalarAttributeTypeS},
			{AttributeName: awsString("SK"), AttributeType: ddbTypes.ScalarAttributeTypeS},
		},
		KeySchema: []ddbTypes.KeySchemaElement{
			{AttributeName: awsString("PK"), KeyType: ddbTypes.KeyTypeHash},
			{AttributeName: awsString("SK"), KeyType: ddbTypes.KeyTypeRange},
		},
		BillingMode: ddbTypes.BillingModePayPerRequest,
	})
	var re *ddbTypes.ResourceInUseException
	if err != nil && !errors.As(err, &re) {
		log.Fatalf("Failed to create table %s: %v", table, err)
	}
}

func awsString(s string) *string         { return &s }
func awsBool(b bool) *bool               { return &b }
func errorAs(err error, target any) bool { return errors.As(err, target) }
