package workspace

var documents = map[string]string{
	"marketing_calendar.md": `# Northwind Marketing Calendar (1997)
## Summer Beverages 1997
- Dates: 1997-06-01 to 1997-06-30
- Notes: Focus on Beverages and Condiments.
## Winter Classics 1997
- Dates: 1997-12-01 to 1997-12-31
- Notes: Push Dairy Products and Confections for holiday gifting.
`,
	"kpi_definitions.md": `# KPI Definitions
## Average Order Value (AOV)
- AOV = SUM(UnitPrice * Quantity * (1 - Discount)) / COUNT(DISTINCT OrderID)
## Gross Margin
- GM = SUM((UnitPrice - CostOfGoods) * Quantity * (1 - Discount))
- If cost is missing, approximate with category-level average (document your approach).
`,
	"catalog.md": `# Catalog Snapshot
- Categories include Beverages, Condiments, Confections, Dairy Products, Grains/Cereals, Meat/Poultry, Produce, Seafood.
- Products map to categories as in the Northwind DB.
`,
	"product_policy.md": `# Returns & Policy
- Perishables (Produce, Seafood, Dairy): 3–7 days.
- Beverages unopened: 14 days; opened: no returns.
- Non-perishables: 30 days.
`,
}

const northwindSchema = `
CREATE TABLE Orders (
    OrderID INTEGER PRIMARY KEY,
    CustomerID TEXT,
    OrderDate TEXT,
    ShipperID INTEGER
);

CREATE TABLE [Order Details] (
    OrderDetailID INTEGER PRIMARY KEY AUTOINCREMENT,
    OrderID INTEGER,
    ProductID INTEGER,
    Quantity INTEGER,
    UnitPrice REAL,
    FOREIGN KEY (OrderID) REFERENCES Orders(OrderID),
    FOREIGN KEY (ProductID) REFERENCES Products(ProductID)
);

CREATE TABLE Products (
    ProductID INTEGER PRIMARY KEY,
    ProductName TEXT,
    CategoryID INTEGER,
    Unit TEXT,
    Price REAL
);

CREATE TABLE Customers (
    CustomerID TEXT PRIMARY KEY,
    CustomerName TEXT,
    ContactName TEXT,
    Country TEXT
);
`

const northwindData = `
INSERT INTO Customers VALUES
    ('ALFKI', 'Alfreds Futterkiste', 'Maria Anders', 'Germany'),
    ('ANATR', 'Ana Trujillo Emparedados', 'Ana Trujillo', 'Mexico'),
    ('ANTON', 'Antonio Moreno Taquería', 'Antonio Moreno', 'Mexico'),
    ('BERGS', 'Berglunds snabbköp', 'Christina Berglund', 'Sweden'),
    ('BLAUS', 'Blauer See Delikatessen', 'Hanna Moos', 'Germany');

INSERT INTO Products VALUES
    (1, 'Chai', 1, '10 boxes x 20 bags', 18.00),
    (2, 'Chang', 1, '24 - 12 oz bottles', 19.00),
    (3, 'Aniseed Syrup', 2, '12 - 550 ml bottles', 10.00),
    (4, 'Chef Anton''s Cajun Seasoning', 2, '48 - 6 oz jars', 22.00),
    (5, 'Grandma''s Boysenberry Spread', 2, '12 - 8 oz jars', 25.00);

INSERT INTO Orders VALUES
    (10248, 'ALFKI', '1996-07-04', 3),
    (10249, 'ANATR', '1996-07-05', 1),
    (10250, 'BERGS', '1996-07-08', 2),
    (10251, 'ALFKI', '1997-01-15', 1),
    (10252, 'ANTON', '1997-02-20', 2),
    (10253, 'BERGS', '1997-03-12', 3),
    (10254, 'BLAUS', '1997-04-18', 1),
    (10255, 'ALFKI', '1997-05-22', 2),
    (10256, 'ANATR', '1997-06-30', 3),
    (10257, 'ANTON', '1997-07-14', 1),
    (10258, 'BERGS', '1997-08-25', 2),
    (10259, 'BLAUS', '1997-09-10', 3),
    (10260, 'ALFKI', '1997-10-05', 1),
    (10261, 'ANATR', '1997-11-18', 2),
    (10262, 'ANTON', '1997-12-22', 3),
    (10263, 'BERGS', '1998-01-10', 1),
    (10264, 'BLAUS', '1998-02-14', 2),
    (10265, 'ALFKI', '1998-03-20', 3);

INSERT INTO [Order Details] (OrderID, ProductID, Quantity, UnitPrice) VALUES
    (10248, 1, 12, 14.00),
    (10248, 2, 10, 9.80),
    (10249, 3, 5, 10.00),
    (10250, 4, 15, 22.00),
    (10251, 1, 20, 18.00),
    (10252, 2, 8, 19.00),
    (10253, 3, 10, 10.00),
    (10254, 4, 12, 22.00),
    (10255, 5, 6, 25.00),
    (10256, 1, 15, 18.00),
    (10257, 2, 18, 19.00),
    (10258, 3, 7, 10.00),
    (10259, 4, 9, 22.00),
    (10260, 5, 11, 25.00),
    (10261, 1, 14, 18.00),
    (10262, 2, 16, 19.00),
    (10263, 3, 8, 10.00),
    (10264, 4, 13, 22.00),
    (10265, 5, 10, 25.00);
`

// examplePlanner narrows SQL generation using the question's year and any
// campaign date ranges found in the retrieved documents.
const examplePlanner = `-- plan(question) runs before SQL generation. Return a string or a list of
-- strings; each one is appended to the SQL generator's constraints.
-- context() exposes question, format_hint, route and documents.

function plan(question)
  local ctx = context()

  for _, doc in ipairs(ctx.documents) do
    local from, to = string.match(doc.content, "(%d%d%d%d%-%d%d%-%d%d) to (%d%d%d%d%-%d%d%-%d%d)")
    if from and string.find(string.lower(question), string.lower(string.match(doc.content, "^[^\n]+")), 1, true) then
      log("campaign window " .. from .. " to " .. to .. " from " .. doc.doc_id)
      constraint("Restrict OrderDate BETWEEN '" .. from .. "' AND '" .. to .. "'.")
    end
  end

  local year = string.match(question, "(1[89]%d%d)") or string.match(question, "(20%d%d)")
  if year then
    return "Filter years with strftime('%Y', OrderDate) = '" .. year .. "'."
  end
  return nil
end
`
