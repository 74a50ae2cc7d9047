package sqlstore

import "strings"

// schema is shared by every dialect. {{seq}} is the dialect's
// auto-increment primary key column definition.
//
// Money is stored as decimal text, timestamps as fixed-width UTC text so
// that lexical order equals time order.
const schema = `
	-- Products (catalog; quantity only changes alongside a ledger entry)
	CREATE TABLE IF NOT EXISTS products (
		id TEXT NOT NULL,
		shop_id TEXT NOT NULL,
		name TEXT NOT NULL,
		barcode TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		cost_price TEXT NOT NULL,
		sell_price TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		reorder_at INTEGER NOT NULL DEFAULT 0,
		track_stock BOOLEAN NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (shop_id, id),
		CHECK (NOT track_stock OR quantity >= 0)
	);

	CREATE INDEX IF NOT EXISTS idx_products_shop_status
		ON products(shop_id, status);

	-- Sales (header; created once, status moves COMPLETED -> VOIDED once)
	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		customer_id TEXT NOT NULL DEFAULT '',
		receipt_number TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		discount TEXT NOT NULL,
		tax TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		change_amount TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		status TEXT NOT NULL,
		void_reason TEXT,
		voided_by TEXT,
		voided_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_sales_receipt
		ON sales(shop_id, receipt_number);
	CREATE INDEX IF NOT EXISTS idx_sales_shop_created
		ON sales(shop_id, created_at);

	-- Sale items (frozen snapshots, immutable)
	CREATE TABLE IF NOT EXISTS sale_items (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id),
		position INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		cost_price TEXT NOT NULL,
		discount TEXT NOT NULL,
		total_price TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sale_items_sale
		ON sale_items(sale_id, position);

	-- Stock ledger (append-only)
	CREATE TABLE IF NOT EXISTS stock_movements (
		{{seq}},
		id TEXT NOT NULL UNIQUE,
		shop_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		previous_qty INTEGER NOT NULL,
		new_qty INTEGER NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		CHECK (new_qty = previous_qty + quantity)
	);

	CREATE INDEX IF NOT EXISTS idx_movements_shop_product
		ON stock_movements(shop_id, product_id, seq);
	CREATE INDEX IF NOT EXISTS idx_movements_reference
		ON stock_movements(reference);

	-- Receipt counters (one row per shop-local day)
	CREATE TABLE IF NOT EXISTS receipt_counters (
		shop_id TEXT NOT NULL,
		day TEXT NOT NULL,
		seq INTEGER NOT NULL,
		PRIMARY KEY (shop_id, day)
	);

	-- Usage counters (monthly, best-effort)
	CREATE TABLE IF NOT EXISTS usage_counters (
		shop_id TEXT NOT NULL,
		metric TEXT NOT NULL,
		period TEXT NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (shop_id, metric, period)
	);
`

func schemaFor(d Dialect) string {
	return strings.ReplaceAll(schema, "{{seq}}", d.SeqColumn)
}
