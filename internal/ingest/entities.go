// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package ingest

import (
	"github.com/tomtom215/tributary/internal/schema"
)

// col is a nullable column read from the same-named upstream field.
func col(name string, t schema.Type) schema.Column {
	return schema.Column{Name: name, Type: t, Source: name}
}

// key is a required column read from the same-named upstream field.
func key(name string, t schema.Type) schema.Column {
	return schema.Column{Name: name, Type: t, Source: name, Required: true}
}

// from is a nullable column read from a dotted upstream path. Alternatives
// separated by "|" are tried in order.
func from(name string, t schema.Type, path string) schema.Column {
	return schema.Column{Name: name, Type: t, Source: path}
}

const (
	i64 = schema.Int64
	f64 = schema.Float64
	bl  = schema.Bool
	str = schema.String
	ts  = schema.Timestamp
	jsn = schema.JSON
)

// Entities returns the transactional entities synced into raw_<name>.
func Entities() []*Entity {
	return []*Entity{
		{
			Name:           "jobs",
			Endpoint:       "jpm/v2/tenant/{tenant}/jobs",
			Table:          "raw_jobs",
			PrimaryKey:     "id",
			PartitionField: "modifiedOn",
			ClusterFields:  []string{"businessUnitId", "jobStatus"},
			Incremental:    true,
			Source:         SourceEntityAPI,
			Columns: schema.Schema{
				key("id", i64), col("jobNumber", str), col("projectId", i64),
				col("customerId", i64), col("locationId", i64), col("jobStatus", str),
				col("completedOn", ts), col("businessUnitId", i64), col("jobTypeId", i64),
				col("priority", str), col("campaignId", i64), col("summary", str),
				col("customFields", jsn), col("createdOn", ts), col("createdById", i64),
				col("modifiedOn", ts), col("tagTypeIds", jsn), col("leadCallId", i64),
				col("bookingId", i64), col("soldById", i64),
			},
		},
		{
			Name:           "invoices",
			Endpoint:       "accounting/v2/tenant/{tenant}/invoices",
			Table:          "raw_invoices",
			PrimaryKey:     "id",
			PartitionField: "modifiedOn",
			ClusterFields:  []string{"businessUnitId", "jobId", "status"},
			Incremental:    true,
			Source:         SourceEntityAPI,
			Columns: schema.Schema{
				key("id", i64), col("syncStatus", str), col("summary", str),
				col("referenceNumber", str), col("invoiceDate", ts), col("dueDate", ts),
				col("subTotal", f64), col("salesTax", f64), col("total", f64),
				col("balance", f64), col("invoiceTypeId", i64),
				from("jobId", i64, "job.id"), col("projectId", i64),
				col("businessUnitId", i64), col("locationId", i64),
				col("customerId", i64), col("depositedOn", ts),
				col("createdOn", ts), col("modifiedOn", ts), col("adjustmentToId", i64),
				col("status", str), col("employeeId", i64),
				col("commissionEligibilityDate", ts), col("items", jsn), col("customFields", jsn),
			},
		},
		{
			Name:           "estimates",
			Endpoint:       "sales/v2/tenant/{tenant}/estimates",
			Table:          "raw_estimates",
			PrimaryKey:     "id",
			PartitionField: "createdOn",
			ClusterFields:  []string{"businessUnitId", "jobId", "status"},
			Incremental:    true,
			Source:         SourceEntityAPI,
			Columns: schema.Schema{
				key("id", i64), col("jobId", i64), col("projectId", i64),
				col("locationId", i64), col("customerId", i64), col("name", str),
				col("jobNumber", str), from("status", str, "status.name"), col("summary", str),
				col("createdOn", ts), col("modifiedOn", ts), col("soldOn", ts),
				col("soldById", i64), col("estimateNumber", str), col("businessUnitId", i64),
				col("subtotal", f64), col("totalTax", f64), col("total", f64),
			},
		},
		{
			Name:           "payments",
			Endpoint:       "accounting/v2/tenant/{tenant}/payments",
			Table:          "raw_payments",
			PrimaryKey:     "id",
			PartitionField: "createdOn",
			ClusterFields:  []string{"invoiceId", "paymentTypeId", "businessUnitId"},
			Incremental:    true,
			Source:         SourceEntityAPI,
			Columns: schema.Schema{
				key("id", i64), col("invoiceId", i64), col("amount", f64),
				from("paymentTypeId", i64, "paymentTypeId|typeId"), col("status", str), col("memo", str),
				col("referenceNumber", str), col("unappliedAmount", f64),
				col("businessUnitId", i64), col("batchId", i64),
				col("createdOn", ts), col("modifiedOn", ts),
			},
		},
		{
			Name:           "payroll",
			Endpoint:       "payroll/v2/tenant/{tenant}/gross-pay-items",
			Table:          "raw_payroll",
			PrimaryKey:     "id",
			PartitionField: "modifiedOn",
			ClusterFields:  []string{"employeeId", "jobId", "date"},
			Incremental:    true,
			Source:         SourceEntityAPI,
			Columns: schema.Schema{
				// id is derived in payrollID from sourceEntityId or a hash.
				{Name: "id", Type: i64, Required: true},
				col("payrollId", i64), col("employeeId", i64), col("employeeType", str),
				col("businessUnitName", str), col("date", ts), col("activity", str),
				col("amount", f64), col("paidDurationHours", f64), col("paidTimeType", str),
				col("jobId", i64), col("jobNumber", str), col("invoiceId", i64),
				col("invoiceNumber", str), col("customerId", i64), col("locationId", i64),
				col("sourceEntityId", i64), col("createdOn", ts), col("modifiedOn", ts),
			},
			Finalize: payrollID,
		},
		{
			Name:           "payroll_adjustments",
			Endpoint:       "payroll/v2/tenant/{tenant}/payroll-adjustments",
			Table:          "raw_payroll_adjustments",
			PrimaryKey:     "id",
			PartitionField: "modifiedOn",
			ClusterFields:  []string{"employeeId", "invoiceId", "activityCodeId"},
			Incremental:    true,
			Source:         SourceEntityAPI,
			Columns: schema.Schema{
				key("id", i64), from("adjustment_id", i64, "id"), col("employeeId", i64),
				from("employeeType", str, "employeeType.name"), col("postedOn", ts),
				col("amount", f64), col("memo", str), col("activityCodeId", i64),
				col("invoiceId", i64), col("hours", f64), col("rate", f64),
				col("createdOn", ts), col("modifiedOn", ts), col("active", bl),
			},
			Finalize: defaultActive,
		},
		{
			Name:           "customers",
			Endpoint:       "crm/v2/tenant/{tenant}/customers",
			Table:          "raw_customers",
			PrimaryKey:     "id",
			PartitionField: "modifiedOn",
			ClusterFields:  []string{"type", "active"},
			Incremental:    true,
			Source:         SourceEntityAPI,
			Columns: schema.Schema{
				key("id", i64), col("active", bl), col("name", str), col("type", str),
				col("address", jsn), col("email", str), col("phoneNumber", str),
				col("balance", f64), col("customFields", jsn), col("createdOn", ts),
				col("createdById", i64), col("modifiedOn", ts), col("mergedToId", i64),
			},
		},
		{
			Name:           "locations",
			Endpoint:       "crm/v2/tenant/{tenant}/locations",
			Table:          "raw_locations",
			PrimaryKey:     "id",
			PartitionField: "modifiedOn",
			ClusterFields:  []string{"customerId", "active"},
			Incremental:    true,
			Source:         SourceEntityAPI,
			Columns: schema.Schema{
				key("id", i64), col("customerId", i64), col("active", bl), col("name", str),
				col("address", jsn), col("taxZoneId", i64), col("zoneId", i64),
				col("createdOn", ts), col("modifiedOn", ts), col("customFields", jsn),
			},
		},
		{
			Name:           "campaigns",
			Endpoint:       "marketing/v2/tenant/{tenant}/campaigns",
			Table:          "raw_campaigns",
			PrimaryKey:     "id",
			PartitionField: "modifiedOn",
			ClusterFields:  []string{"active", "categoryId"},
			Incremental:    true,
			Source:         SourceEntityAPI,
			Columns: schema.Schema{
				key("id", i64), col("active", bl), col("name", str),
				from("categoryId", i64, "category.id"), from("category", str, "category.name"),
				col("createdOn", ts), col("modifiedOn", ts),
			},
		},
		{
			Name:           "appointments",
			Endpoint:       "jpm/v2/tenant/{tenant}/appointments",
			Table:          "raw_appointments",
			PrimaryKey:     "id",
			PartitionField: "modifiedOn",
			ClusterFields:  []string{"jobId", "status"},
			Incremental:    true,
			WindowParam:    "startsOnOrAfter",
			Source:         SourceEntityAPI,
			Columns: schema.Schema{
				key("id", i64), col("jobId", i64), col("appointmentNumber", str),
				col("start", ts), col("end", ts), col("arrivalWindowStart", ts),
				col("arrivalWindowEnd", ts), col("status", str), col("specialInstructions", str),
				col("createdOn", ts), col("modifiedOn", ts), col("customerId", i64),
				col("customerMemoId", i64), col("leadCallId", i64), col("bookingProviderId", i64),
				col("createdById", i64), col("modifiedById", i64), col("unused", bl),
				col("isConfirmed", bl), col("assignedTechnicianIds", jsn),
			},
		},
		{
			Name:           "purchase_orders",
			Endpoint:       "inventory/v2/tenant/{tenant}/purchase-orders",
			Table:          "raw_purchase_orders",
			PrimaryKey:     "id",
			PartitionField: "modifiedOn",
			ClusterFields:  []string{"vendorId", "jobId", "status"},
			Incremental:    true,
			Source:         SourceEntityAPI,
			Columns: schema.Schema{
				key("id", i64), from("purchaseOrderId", i64, "id"), col("number", str),
				col("syncStatus", str), col("status", str), col("vendorId", i64),
				col("vendorName", str), col("jobId", i64), col("jobNumber", str),
				col("businessUnitId", i64), col("date", ts), col("requiredOn", ts),
				col("sentOn", ts), col("receivedOn", ts), col("total", f64), col("tax", f64),
				col("shipping", f64), col("discount", f64), col("subTotal", f64),
				col("items", jsn), col("memo", str), col("shipToAddress", jsn),
				col("customFields", jsn), col("createdOn", ts), col("modifiedOn", ts),
			},
		},
		{
			Name:           "returns",
			Endpoint:       "inventory/v2/tenant/{tenant}/returns",
			Table:          "raw_returns",
			PrimaryKey:     "id",
			PartitionField: "modifiedOn",
			ClusterFields:  []string{"vendorId", "jobId", "returnDate"},
			Incremental:    true,
			Source:         SourceEntityAPI,
			Columns: schema.Schema{
				key("id", i64), from("returnId", i64, "id"), col("number", str),
				col("syncStatus", str), col("status", str), col("vendorId", i64),
				col("vendorName", str), col("jobId", i64), col("jobNumber", str),
				col("businessUnitId", i64), col("returnDate", ts), col("total", f64),
				col("tax", f64), col("shipping", f64), col("subTotal", f64), col("items", jsn),
				col("memo", str), col("purchaseOrderId", i64), col("purchaseOrderNumber", str),
				col("customFields", jsn), col("createdOn", ts), col("modifiedOn", ts),
			},
		},
		{
			Name:           "inventory_bills",
			Endpoint:       "accounting/v2/tenant/{tenant}/inventory-bills",
			Table:          "raw_inventory_bills",
			PrimaryKey:     "id",
			PartitionField: "modifiedOn",
			ClusterFields:  []string{"vendorId", "jobId", "businessUnitId"},
			Incremental:    true,
			Source:         SourceEntityAPI,
			Columns: schema.Schema{
				key("id", i64), from("inventoryBillId", i64, "id"), col("purchaseOrderId", i64),
				col("syncStatus", str), col("referenceNumber", str),
				from("vendorId", i64, "vendor.id"), col("vendorNumber", str),
				from("vendorName", str, "vendor.name"), col("jobId", i64), col("jobNumber", str),
				from("businessUnitId", i64, "businessUnit.id"), from("businessUnitName", str, "businessUnit.name"),
				col("summary", str), col("billDate", ts), col("dueDate", ts),
				col("billAmount", f64), col("taxAmount", f64), col("shippingAmount", f64),
				col("total", f64), col("termName", str), col("shipToDescription", str),
				col("shipTo", jsn), col("batch", jsn), col("taxZone", jsn), col("items", jsn),
				col("customFields", jsn), col("createdBy", str), col("createdOn", ts),
				col("modifiedOn", ts), col("active", bl),
			},
		},
		{
			Name:           "calls",
			Endpoint:       "telecom/v2/tenant/{tenant}/calls",
			Table:          "raw_calls",
			PrimaryKey:     "id",
			PartitionField: "modifiedOn",
			ClusterFields:  []string{"direction", "callType"},
			Incremental:    true,
			Source:         SourceEntityAPI,
			Columns: schema.Schema{
				key("id", i64), col("receivedOn", ts), col("duration", str),
				col("from", str), col("to", str), col("direction", str), col("callType", str),
				from("reasonId", i64, "reason.id"), from("reason", str, "reason.name"),
				from("customerId", i64, "customer.id"), from("jobId", i64, "job.id"),
				from("campaignId", i64, "campaign.id"), from("agentId", i64, "agent.id"),
				col("recordingUrl", str), col("createdOn", ts), col("modifiedOn", ts),
			},
		},
		{
			Name:           "projects",
			Endpoint:       "jpm/v2/tenant/{tenant}/projects",
			Table:          "raw_projects",
			PrimaryKey:     "id",
			PartitionField: "modifiedOn",
			ClusterFields:  []string{"customerId", "status"},
			Incremental:    true,
			Source:         SourceEntityAPI,
			Columns: schema.Schema{
				key("id", i64), col("number", str), col("name", str), col("summary", str),
				col("status", str), col("statusId", i64), col("subStatus", str),
				col("customerId", i64), col("locationId", i64), col("projectManagerIds", jsn),
				col("businessUnitIds", jsn), col("startDate", ts), col("targetCompletionDate", ts),
				col("actualCompletionDate", ts), col("customFields", jsn),
				col("createdOn", ts), col("modifiedOn", ts),
			},
		},
	}
}

// References returns the dimensions refreshed in full into dim_<name>.
func References() []*Entity {
	ref := func(name, endpoint string, cols ...schema.Column) *Entity {
		return &Entity{
			Name:       name,
			Endpoint:   endpoint,
			Table:      "dim_" + name,
			PrimaryKey: "id",
			Reference:  true,
			Source:     SourceRefAPI,
			Columns:    append(schema.Schema{key("id", i64)}, cols...),
			Finalize:   defaultActive,
		}
	}

	return []*Entity{
		ref("business_units", "settings/v2/tenant/{tenant}/business-units",
			col("name", str), col("active", bl), col("officialName", str), col("phoneNumber", str),
			col("email", str), col("address", jsn), col("timezone", str), col("modifiedOn", ts)),
		ref("technicians", "settings/v2/tenant/{tenant}/technicians",
			col("name", str), col("active", bl), col("businessUnitId", i64), col("businessUnitName", str),
			col("email", str), col("phoneNumber", str), col("employeeId", i64), col("role", str),
			col("team", str), col("modifiedOn", ts)),
		ref("activity_codes", "settings/v2/tenant/{tenant}/activity-codes",
			col("name", str), col("active", bl), col("description", str), col("code", str),
			col("isPaid", bl), col("modifiedOn", ts)),
		ref("job_types", "settings/v2/tenant/{tenant}/job-types",
			key("name", str), col("description", str), col("active", bl),
			col("createdOn", ts), col("modifiedOn", ts)),
		ref("employees", "settings/v2/tenant/{tenant}/employees",
			col("name", str), col("active", bl), col("role", str), col("email", str),
			col("phoneNumber", str), col("businessUnitId", i64), col("userId", i64),
			col("createdOn", ts), col("modifiedOn", ts)),
		ref("zones", "settings/v2/tenant/{tenant}/zones",
			col("name", str), col("active", bl), col("zips", jsn), col("cities", jsn),
			col("businessUnits", jsn), col("modifiedOn", ts)),
		ref("tag_types", "settings/v2/tenant/{tenant}/tag-types",
			col("name", str), col("active", bl), col("color", str), col("code", str),
			col("importance", str), col("modifiedOn", ts)),
		ref("campaign_categories", "marketing/v2/tenant/{tenant}/categories",
			col("name", str), col("active", bl), col("createdOn", ts), col("modifiedOn", ts)),
	}
}
